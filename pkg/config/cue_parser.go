package config

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"

	"github.com/openfroyo/lxd-inventory/pkg/engine"
)

// ValidationError is one positioned problem found in a CUE source.
type ValidationError struct {
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Message string `json:"message"`
}

// String renders the error as file:line:column: message.
func (e ValidationError) String() string {
	if e.File == "" && e.Line == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
}

// CUEParser reads configuration written in CUE instead of YAML.
// The evaluated value must be concrete and is decoded into a RawConfig,
// so it goes through the same schema and resolution as a YAML file.
type CUEParser struct {
	ctx *cue.Context
	mu  sync.Mutex
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() *CUEParser {
	return &CUEParser{ctx: cuecontext.New()}
}

// IsCUEFile reports whether path should be parsed as CUE.
func IsCUEFile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".cue")
}

// Parse evaluates CUE source and decodes it into a RawConfig.
func (cp *CUEParser) Parse(ctx context.Context, filename string, content []byte) (RawConfig, error) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	val := cp.ctx.CompileBytes(content, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, cp.configurationError(filename, err)
	}
	if err := val.Validate(cue.Concrete(true)); err != nil {
		return nil, cp.configurationError(filename, err)
	}

	var raw RawConfig
	if err := val.Decode(&raw); err != nil {
		return nil, cp.configurationError(filename, err)
	}
	if raw == nil {
		raw = RawConfig{}
	}
	return raw, nil
}

func (cp *CUEParser) configurationError(filename string, err error) error {
	verrs := convertCUEErrors(err)
	msgs := make([]string, 0, len(verrs))
	for _, ve := range verrs {
		msgs = append(msgs, ve.String())
	}
	return engine.NewConfigurationError(fmt.Sprintf("invalid CUE configuration: %s", strings.Join(msgs, "; ")), err).
		WithCode(engine.ErrCodeMalformedConfig).
		WithDetail("path", filename)
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		var file string
		var line, column int

		if pos := errors.Positions(e); len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:    file,
			Line:    line,
			Column:  column,
			Message: errors.Details(e, nil),
		})
	}

	if len(validationErrors) == 0 {
		validationErrors = append(validationErrors, ValidationError{Message: err.Error()})
	}
	return validationErrors
}
