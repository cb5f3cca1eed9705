package security

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
)

const (
	SurveyTokenLength = 8
	surveyTokenBytes  = 6
	// maxTokenDraws bounds how often a short encoding is topped up before
	// giving up; each draw adds at least six characters.
	maxTokenDraws = 4
)

var (
	ErrRandomUnavailable = errors.New("secure random source unavailable")
	ErrInvalidBaseOrigin = errors.New("invalid base origin")
)

// TokenGenerator issues survey tokens from a cryptographically secure source.
type TokenGenerator struct {
	random io.Reader
}

func NewTokenGenerator(random io.Reader) *TokenGenerator {
	if random == nil {
		random = rand.Reader
	}
	return &TokenGenerator{random: random}
}

// Generate encodes each random byte in base 36, joins them, and keeps the
// first eight characters upper-cased. A failing source is an error; there is
// no fallback generator.
func (g *TokenGenerator) Generate() (string, error) {
	var sb strings.Builder
	buf := make([]byte, surveyTokenBytes)
	for draw := 0; draw < maxTokenDraws && sb.Len() < SurveyTokenLength; draw++ {
		if _, err := io.ReadFull(g.random, buf); err != nil {
			return "", fmt.Errorf("%w: %v", ErrRandomUnavailable, err)
		}
		for _, b := range buf {
			sb.WriteString(strconv.FormatUint(uint64(b), 36))
		}
	}
	token := strings.ToUpper(sb.String())
	if len(token) < SurveyTokenLength {
		return "", fmt.Errorf("%w: short encoding", ErrRandomUnavailable)
	}
	return token[:SurveyTokenLength], nil
}

func GenerateSurveyToken() (string, error) {
	return NewTokenGenerator(rand.Reader).Generate()
}

// NormalizeSurveyToken upper-cases and trims user-typed input so tokens read
// off paper or a screen still match.
func NormalizeSurveyToken(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// IsWellFormedSurveyToken reports whether raw has the shape of an issued
// token. It says nothing about whether the token exists.
func IsWellFormedSurveyToken(raw string) bool {
	if len(raw) != SurveyTokenLength {
		return false
	}
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if (c < '0' || c > '9') && (c < 'A' || c > 'Z') {
			return false
		}
	}
	return true
}

// BuildSurveyLink composes the public link for a token. It does not touch the
// network.
func BuildSurveyLink(token, baseOrigin string) (string, error) {
	origin := strings.TrimRight(strings.TrimSpace(baseOrigin), "/")
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidBaseOrigin, baseOrigin)
	}
	return origin + "/s/" + url.PathEscape(token), nil
}
