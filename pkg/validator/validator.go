package validator

import (
	"encoding/pem"
	"net/url"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	arnRegex      = regexp.MustCompile(`^arn:aws:[a-z0-9\-]+:[a-z0-9\-]*:[0-9]{12}:.*$`)
	ssmParamRegex = regexp.MustCompile(`^/?[a-zA-Z0-9_.\-/]+$`)
)

// maxSSMParamLen is the longest parameter name Parameter Store accepts.
const maxSSMParamLen = 1011

// isSSMParam accepts a Parameter Store name or ARN.
func isSSMParam(fl validator.FieldLevel) bool {
	v := fl.Field().String()
	if strings.HasPrefix(v, "arn:") {
		return arnRegex.MatchString(v) && strings.Contains(v, ":parameter/")
	}
	return len(v) <= maxSSMParamLen && ssmParamRegex.MatchString(v) && !strings.Contains(v, "//")
}

// isPEM checks that the field holds at least one PEM block.
func isPEM(fl validator.FieldLevel) bool {
	block, _ := pem.Decode([]byte(strings.TrimSpace(fl.Field().String())))
	return block != nil
}

// hasDSNScheme checks a connection URL against the scheme family named by the
// tag parameter, e.g. dsn_scheme=postgres.
func hasDSNScheme(fl validator.FieldLevel) bool {
	u, err := url.Parse(fl.Field().String())
	if err != nil {
		return false
	}
	switch fl.Param() {
	case "postgres":
		return u.Scheme == "postgres" || u.Scheme == "postgresql"
	case "sqlite":
		return u.Scheme == "sqlite" || u.Scheme == "file"
	default:
		return u.Scheme == fl.Param()
	}
}

// RegisterCustomValidators registers custom validation functions with the validator.
func RegisterCustomValidators(validate *validator.Validate) error {
	validators := map[string]validator.Func{
		"ssm_param":  isSSMParam,
		"pem":        isPEM,
		"dsn_scheme": hasDSNScheme,
	}
	for tag, fn := range validators {
		if err := validate.RegisterValidation(tag, fn); err != nil {
			return err
		}
	}
	return nil
}
