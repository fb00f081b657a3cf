package config

import (
	"sync"
)

var (
	s3Once   sync.Once
	s3Config *S3Config
)

type S3Config struct {
	BucketName string
	Region     string
	Endpoint   string
	AccessKey  string
	SecretKey  string
}

func GetS3Config() *S3Config {
	s3Once.Do(func() {
		loadEnv()
		s3Config = &S3Config{
			BucketName: envStr("AWS_S3_BUCKET_NAME", ""),
			Region:     envStr("AWS_REGION", ""),
			Endpoint:   envStr("AWS_ENDPOINT", ""),
			AccessKey:  envStr("AWS_ACCESS_KEY", ""),
			SecretKey:  envStr("AWS_SECRET_KEY", ""),
		}
	})
	return s3Config
}
