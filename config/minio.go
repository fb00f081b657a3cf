package config

import (
	"sync"
)

var (
	minioOnce   sync.Once
	minioConfig *MinioConfig
)

type MinioConfig struct {
	AccessKey  string
	SecretKey  string
	Endpoint   string
	UseSSL     bool
	Region     string
	BucketName string
}

func GetMinioConfig() *MinioConfig {
	minioOnce.Do(func() {
		loadEnv()
		minioConfig = &MinioConfig{
			AccessKey:  envStr("MINIO_ACCESS_KEY", ""),
			SecretKey:  envStr("MINIO_SECRET_KEY", ""),
			Endpoint:   envStr("MINIO_ENDPOINT", "localhost:9000"),
			UseSSL:     envBool("MINIO_USE_SSL", false),
			Region:     envStr("MINIO_REGION", ""),
			BucketName: envStr("MINIO_BUCKET_NAME", "documents"),
		}
	})
	return minioConfig
}
