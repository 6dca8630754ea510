package agent

import (
	"regexp"
	"strings"
)

// smallTalk matches whole messages that are only a greeting, thanks, a
// farewell or a question about the assistant itself.
var smallTalk = regexp.MustCompile(`^(?:` + strings.Join([]string{
	`(?:hi|hello|hey|greetings|good (?:morning|afternoon|evening))(?: there| everyone)?`,
	`(?:thanks|thank you|thank you so much|thanks a lot|many thanks|cheers)`,
	`(?:bye|goodbye|see you|have a nice day)`,
	`(?:how are you|how are you doing|who are you|what can you do|what do you do)`,
	`(?:bonjour|bonsoir|salut|allo|allô|coucou)(?: à tous)?`,
	`(?:merci|merci beaucoup|merci bien|je vous remercie)`,
	`(?:au revoir|à bientôt|bonne journée|bonne soirée)`,
	`(?:comment ça va|comment allez-vous|ça va|qui êtes-vous|qui es-tu|que pouvez-vous faire|que peux-tu faire)`,
}, "|") + `)$`)

var trailingPunct = regexp.MustCompile(`[\s!?.,;:)(]+$`)

// isSmallTalk reports whether text needs no retrieval. A greeting followed
// by a real question is not small talk.
func isSmallTalk(text string) bool {
	s := strings.ToLower(strings.TrimSpace(text))
	s = strings.ReplaceAll(s, "’", "'")
	s = trailingPunct.ReplaceAllString(s, "")
	s = strings.Join(strings.Fields(s), " ")
	// "hi, thanks" and similar pairs
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(trailingPunct.ReplaceAllString(part, ""))
		if part == "" || !smallTalk.MatchString(part) {
			return false
		}
	}
	return s != ""
}
