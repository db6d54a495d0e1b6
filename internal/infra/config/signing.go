package config

import "time"

// SigningConfig lists the places the signing identity may be read from.
// Inline PEM wins over files, files win over SSM parameters.
type SigningConfig struct {
	PrivateKeyPEM      string        `mapstructure:"private_key_pem"      validate:"omitempty,pem"`
	PublicKeyPEM       string        `mapstructure:"public_key_pem"       validate:"omitempty,pem"`
	PrivateKeyFile     string        `mapstructure:"private_key_file"     validate:"omitempty,file"`
	PublicKeyFile      string        `mapstructure:"public_key_file"      validate:"omitempty,file"`
	PrivateKeySSMParam string        `mapstructure:"private_key_ssm_param" validate:"omitempty,ssm_param"`
	PublicKeySSMParam  string        `mapstructure:"public_key_ssm_param"  validate:"omitempty,ssm_param"`
	KeyBits            int           `mapstructure:"key_bits"             validate:"oneof=2048 3072 4096"`
	FetchTimeout       time.Duration `mapstructure:"fetch_timeout"`
}

// UsesSSM reports whether any key material is to be fetched from Parameter Store.
func (s SigningConfig) UsesSSM() bool {
	return s.PrivateKeySSMParam != "" || s.PublicKeySSMParam != ""
}
