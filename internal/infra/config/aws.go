package config

// AWSConfig represents the AWS configuration shared by the S3 archive and
// the SSM key source.
type AWSConfig struct {
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint" validate:"omitempty,url"`
}

// ArchiveConfig controls exports of verified ledger snapshots.
type ArchiveConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	S3Bucket string `mapstructure:"s3_bucket" validate:"required_if=Enabled true"`
	Prefix   string `mapstructure:"prefix"`
}
