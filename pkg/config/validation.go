package config

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	sserr "github.com/StricklySoft/auth-gateway/pkg/errors"
)

// Validator is implemented by configuration structs with cross-field
// rules. Returning an *sserr.Error preserves its code; anything else is
// reported as a configuration error.
type Validator interface {
	Validate() error
}

var (
	structRulesOnce sync.Once
	structRules     *validator.Validate
)

func rules() *validator.Validate {
	structRulesOnce.Do(func() {
		structRules = validator.New(validator.WithRequiredStructEnabled())
	})
	return structRules
}

func validate(cfg any, root reflect.Value) error {
	err := walk(root, "", func(f field) error {
		if f.tag.Get("required") == "true" && f.value.IsZero() {
			return sserr.Newf(sserr.CodeInternalConfiguration,
				"config: required field %s is empty", f.path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := rules().Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			failed := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				failed = append(failed, fe.Namespace()+" ("+fe.Tag()+")")
			}
			return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
				"config: invalid fields: %s", strings.Join(failed, ", "))
		}
		return sserr.Wrap(err, sserr.CodeInternalConfiguration, "config: validation")
	}

	if v, ok := cfg.(Validator); ok {
		if err := v.Validate(); err != nil {
			if _, ours := sserr.AsError(err); ours {
				return err
			}
			return sserr.Wrap(err, sserr.CodeInternalConfiguration, "config: validation")
		}
	}
	return nil
}
