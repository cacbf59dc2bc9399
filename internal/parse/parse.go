// Package parse turns raw LLM completion text into structured results:
// cleaned prose, extracted code blocks, validated JSON, truncation
// signals, and a confidence estimate. Parsing never fails; malformed
// input degrades the affected block and the rest of the result stands.
package parse

import (
	"github.com/rs/zerolog"

	"github.com/jberon/kiln/internal/logging"
)

// Confidence penalties per defect class.
const (
	penaltyTruncated      = 0.30
	penaltyArtifact       = 0.05
	penaltyInvalidJSON    = 0.10
	penaltyIncompleteCode = 0.15
)

// DefaultMaxInputBytes caps raw input before any other stage runs.
const DefaultMaxInputBytes = 256 * 1024

// Config tunes the parser.
type Config struct {
	// MaxInputBytes hard-caps raw input length. Longer input is cut at
	// the cap and the result carries a warning. Zero means the default.
	MaxInputBytes int
}

// DefaultConfig returns the default parser configuration.
func DefaultConfig() Config {
	return Config{MaxInputBytes: DefaultMaxInputBytes}
}

// CodeBlock is one fenced code region extracted from the input.
type CodeBlock struct {
	// Language is the lowercased fence tag, empty when absent.
	Language string `json:"language,omitempty"`

	// Code is the block body without the fences.
	Code string `json:"code"`

	// Start and End are byte offsets of the whole fenced region in the
	// cleaned text, before block removal.
	Start int `json:"start"`
	End   int `json:"end"`

	// Complete is true when the closing fence is present and the body's
	// brackets and quotes balance.
	Complete bool `json:"complete"`
}

// JSONBlock is one JSON candidate found in the input.
type JSONBlock struct {
	// Raw is the candidate text as found.
	Raw string `json:"raw"`

	// Value is the decoded document when Valid.
	Value any `json:"value,omitempty"`

	// Valid is true when the candidate decoded, possibly after repair.
	Valid bool `json:"valid"`

	// Repaired is true when a repair pass was needed to decode.
	Repaired bool `json:"repaired"`

	// Errors collects the decode error from each failed attempt.
	Errors []string `json:"errors,omitempty"`
}

// Result is the structured outcome of parsing one completion.
type Result struct {
	// Text is the cleaned prose with code blocks removed.
	Text string `json:"text"`

	// CodeBlocks are the fenced regions, in input order.
	CodeBlocks []CodeBlock `json:"code_blocks,omitempty"`

	// JSONBlocks are JSON candidates from prose and ```json fences.
	JSONBlocks []JSONBlock `json:"json_blocks,omitempty"`

	// Truncated is true when the text shows signs of being cut off.
	Truncated bool `json:"truncated"`

	// ArtifactsRemoved lists cleaning categories that fired, one label
	// per category.
	ArtifactsRemoved []string `json:"artifacts_removed,omitempty"`

	// Warnings carries non-fatal parsing notes.
	Warnings []string `json:"warnings,omitempty"`

	// Confidence estimates how intact the completion is, 0 to 1.
	Confidence float64 `json:"confidence"`
}

// Parser runs the parsing stages with a fixed configuration.
type Parser struct {
	cfg    Config
	logger zerolog.Logger
}

// NewParser creates a parser. Zero config fields fall back to defaults.
func NewParser(cfg Config) *Parser {
	if cfg.MaxInputBytes <= 0 {
		cfg.MaxInputBytes = DefaultMaxInputBytes
	}
	return &Parser{
		cfg:    cfg,
		logger: logging.Component("parse"),
	}
}

// Parse runs the stages in fixed order: cap input, clean artifacts,
// extract code blocks, validate JSON, detect truncation, score
// confidence.
func (p *Parser) Parse(raw string) *Result {
	res := &Result{Confidence: 1.0}

	text := raw
	if len(text) > p.cfg.MaxInputBytes {
		text = text[:p.cfg.MaxInputBytes]
		res.Warnings = append(res.Warnings, "input exceeded size cap and was truncated")
		p.logger.Warn().
			Int("cap_bytes", p.cfg.MaxInputBytes).
			Int("input_bytes", len(raw)).
			Msg("input over size cap")
	}

	text, removed := cleanArtifacts(text)
	for _, category := range removed {
		p.logger.Debug().Str("category", category).Msg("artifact removed")
	}
	res.ArtifactsRemoved = removed

	blocks, plain := extractCodeBlocks(text)
	res.CodeBlocks = blocks
	res.Text = plain

	res.JSONBlocks = collectJSONBlocks(plain, blocks)

	res.Truncated = detectTruncation(text, plain, blocks)

	res.Confidence = confidence(res)

	if res.Truncated || len(res.ArtifactsRemoved) > 0 {
		p.logger.Debug().
			Bool("truncated", res.Truncated).
			Int("code_blocks", len(res.CodeBlocks)).
			Int("json_blocks", len(res.JSONBlocks)).
			Float64("confidence", res.Confidence).
			Msg("parsed completion")
	}

	return res
}

// confidence starts at 1.0 and subtracts a fixed penalty per defect:
// truncation once, each artifact category, each invalid JSON block,
// each incomplete code block. Floors at zero.
func confidence(res *Result) float64 {
	c := 1.0
	if res.Truncated {
		c -= penaltyTruncated
	}
	c -= penaltyArtifact * float64(len(res.ArtifactsRemoved))
	for _, jb := range res.JSONBlocks {
		if !jb.Valid {
			c -= penaltyInvalidJSON
		}
	}
	for _, cb := range res.CodeBlocks {
		if !cb.Complete {
			c -= penaltyIncompleteCode
		}
	}
	if c < 0 {
		c = 0
	}
	return c
}
