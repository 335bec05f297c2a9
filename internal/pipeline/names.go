package pipeline

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/therealutkarshpriyadarshi/mediadrop/pkg/models"
)

const maxTitleBytes = 120

// SanitizeTitle keeps letters, digits, spaces, dots and underscores and
// replaces everything else with an underscore
func SanitizeTitle(title string) string {
	clean := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '.' || r == '_' {
			return r
		}
		return '_'
	}, title)

	for strings.Contains(clean, "..") {
		clean = strings.ReplaceAll(clean, "..", "_")
	}

	if len(clean) > maxTitleBytes {
		cut := maxTitleBytes
		for cut > 0 && !utf8.RuneStart(clean[cut]) {
			cut--
		}
		clean = clean[:cut]
	}

	clean = strings.Trim(clean, " .")
	if clean == "" {
		return "media"
	}
	return clean
}

// FileName derives the artifact name for a produced item
func FileName(title string, height int, policy models.SelectionPolicy, subtitleFallback bool) string {
	name := SanitizeTitle(title)
	if !policy.AudioOnly && height > 0 {
		name = fmt.Sprintf("%s_%dp", name, height)
	}
	if policy.SubtitleLanguage != "" && !subtitleFallback {
		name += "_" + SanitizeTitle(policy.SubtitleLanguage)
	}
	return name + "." + policy.PreferredContainer
}
