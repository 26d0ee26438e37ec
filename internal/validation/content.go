package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MaxTitleLen   = 200
	MaxBodyLen    = 10000
	MaxCommentLen = 2000
	MaxMessageLen = 4000
	MaxImages     = 10
	MaxTags       = 10
)

// ValidatePostTitle trims title and checks it is present and bounded.
func ValidatePostTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", fmt.Errorf("title is required")
	}
	if utf8.RuneCountInString(title) > MaxTitleLen {
		return "", fmt.Errorf("title must be at most %d characters", MaxTitleLen)
	}
	return title, nil
}

// ValidatePostBody bounds the optional long-form content and tag set.
func ValidatePostBody(content string, tags []string) error {
	if utf8.RuneCountInString(content) > MaxBodyLen {
		return fmt.Errorf("content must be at most %d characters", MaxBodyLen)
	}
	if len(tags) > MaxTags {
		return fmt.Errorf("at most %d tags are allowed", MaxTags)
	}
	for _, t := range tags {
		if strings.TrimSpace(t) == "" {
			return fmt.Errorf("tags cannot be blank")
		}
	}
	return nil
}

// ValidateCommentText trims text and checks it is present and bounded.
func ValidateCommentText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("comment cannot be empty")
	}
	if utf8.RuneCountInString(text) > MaxCommentLen {
		return "", fmt.Errorf("comment must be at most %d characters", MaxCommentLen)
	}
	return text, nil
}

// ValidateMessage requires text or at least one image reference.
func ValidateMessage(text string, images int) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" && images == 0 {
		return "", fmt.Errorf("message must contain text or at least one image")
	}
	if utf8.RuneCountInString(text) > MaxMessageLen {
		return "", fmt.Errorf("message must be at most %d characters", MaxMessageLen)
	}
	if images > MaxImages {
		return "", fmt.Errorf("at most %d images are allowed", MaxImages)
	}
	return text, nil
}
