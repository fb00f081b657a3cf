package config

import (
	"sync"
)

var (
	textractOnce   sync.Once
	textractConfig *TextractConfig
)

// TextractConfig carries the AWS credentials for the Textract OCR engine.
type TextractConfig struct {
	Region        string
	AccessKey     string
	SecretKey     string
	MinConfidence float64
}

func GetTextractConfig() *TextractConfig {
	textractOnce.Do(func() {
		loadEnv()
		textractConfig = &TextractConfig{
			Region:        envStr("AWS_REGION", ""),
			AccessKey:     envStr("AWS_ACCESS_KEY", ""),
			SecretKey:     envStr("AWS_SECRET_KEY", ""),
			MinConfidence: envFloat("TEXTRACT_MIN_CONFIDENCE", 60.0),
		}
	})
	return textractConfig
}
