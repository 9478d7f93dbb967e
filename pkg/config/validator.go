package config

import (
	"errors"
	"fmt"
)

// Validator checks a resolved configuration for missing or inconsistent
// values before the application starts.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for cfg.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll runs every section check and returns the collected failures.
func (v *Validator) ValidateAll() error {
	var errs []error
	errs = append(errs, v.validateServer()...)
	errs = append(errs, v.validatePrompts()...)
	errs = append(errs, v.validateLLM()...)
	errs = append(errs, v.validateSummarizer()...)
	errs = append(errs, v.validateSearch()...)
	errs = append(errs, v.validateFinancial()...)
	return errors.Join(errs...)
}

func (v *Validator) validateServer() []error {
	var errs []error
	s := v.cfg.Server
	if s.Port <= 0 || s.Port > 65535 {
		errs = append(errs, NewValidationError("server", "composer.yaml", "port",
			fmt.Errorf("%w: %d", ErrInvalidValue, s.Port)))
	}
	return errs
}

func (v *Validator) validatePrompts() []error {
	if v.cfg.Prompts.Dir == "" {
		return []error{NewValidationError("prompts", "composer.yaml", "dir", ErrMissingRequiredField)}
	}
	return nil
}

func (v *Validator) validateLLM() []error {
	var errs []error
	l := v.cfg.LLM
	if l.BaseURL == "" {
		errs = append(errs, NewValidationError("llm", "composer.yaml", "base_url", ErrMissingRequiredField))
	}
	if l.Model == "" {
		errs = append(errs, NewValidationError("llm", "composer.yaml", "model", ErrMissingRequiredField))
	}
	if l.RequestTimeout < 0 {
		errs = append(errs, NewValidationError("llm", "composer.yaml", "request_timeout",
			fmt.Errorf("%w: %s", ErrInvalidValue, l.RequestTimeout)))
	}
	return errs
}

func (v *Validator) validateSummarizer() []error {
	var errs []error
	s := v.cfg.Summarizer
	if s.MaxInputTokens <= 0 {
		errs = append(errs, NewValidationError("summarizer", "composer.yaml", "max_input_tokens",
			fmt.Errorf("%w: %d", ErrInvalidValue, s.MaxInputTokens)))
	}
	return errs
}

func (v *Validator) validateSearch() []error {
	var errs []error
	s := v.cfg.Search
	if s.ResultsPerQuery <= 0 {
		errs = append(errs, NewValidationError("search", "composer.yaml", "results_per_query",
			fmt.Errorf("%w: %d", ErrInvalidValue, s.ResultsPerQuery)))
	}
	if s.GlobalTimeout <= 0 {
		errs = append(errs, NewValidationError("search", "composer.yaml", "global_timeout",
			fmt.Errorf("%w: %s", ErrInvalidValue, s.GlobalTimeout)))
	}
	// Endpoint candidates are only needed once a run enables web search;
	// their absence is not a startup failure.
	return errs
}

func (v *Validator) validateFinancial() []error {
	var errs []error
	f := v.cfg.Financial
	if f.Enabled && f.Timeout <= 0 {
		errs = append(errs, NewValidationError("financial", "composer.yaml", "timeout",
			fmt.Errorf("%w: %s", ErrInvalidValue, f.Timeout)))
	}
	return errs
}
