package llm

import (
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

// StatusCode extracts the provider HTTP status from an adapter error, or 0
// when the failure never produced an HTTP response.
func StatusCode(err error) int {
	if err == nil {
		return 0
	}

	var oaiAPIErr *openai.APIError
	if errors.As(err, &oaiAPIErr) {
		return oaiAPIErr.HTTPStatusCode
	}
	var oaiReqErr *openai.RequestError
	if errors.As(err, &oaiReqErr) {
		return oaiReqErr.HTTPStatusCode
	}
	var antErr *anthropic.Error
	if errors.As(err, &antErr) {
		return antErr.StatusCode
	}
	var gemErr genai.APIError
	if errors.As(err, &gemErr) {
		return gemErr.Code
	}
	return 0
}
