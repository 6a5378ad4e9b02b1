package reply

import (
	"regexp"
	"strings"
)

var (
	mdLink     = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	bareURL    = regexp.MustCompile(`https?://\S+`)
	mdHeading  = regexp.MustCompile(`(?m)^\s{0,3}#{1,6}\s*`)
	mdBullet   = regexp.MustCompile(`(?m)^\s*(?:[-*+]|\d+\.)\s+`)
	mdEmphasis = strings.NewReplacer("**", "", "__", "", "```", "", "`", "", "~~", "")
	preamble   = regexp.MustCompile(`^(?i)(?:reply|response|answer|回覆|回复|答覆)\s*[:：]\s*`)
	multiSpace = regexp.MustCompile(`[ \t]{2,}`)
)

// sanitize turns model output into plain chat text.
func sanitize(s string) string {
	s = strings.TrimSpace(s)
	s = preamble.ReplaceAllString(s, "")
	s = mdLink.ReplaceAllString(s, "$1")
	s = bareURL.ReplaceAllString(s, "")
	s = mdHeading.ReplaceAllString(s, "")
	s = mdBullet.ReplaceAllString(s, "")
	s = mdEmphasis.Replace(s)
	s = multiSpace.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"“”「」`)
	return strings.TrimSpace(s)
}
