package graph

import (
	"strings"
	"unicode"

	"github.com/narrativeiq/backend/pkg/common"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var honorifics = map[string]struct{}{
	"dr": {}, "doctor": {}, "mr": {}, "mrs": {}, "ms": {}, "mx": {}, "miss": {},
	"sir": {}, "dame": {}, "lady": {}, "lord": {}, "madam": {}, "madame": {},
	"captain": {}, "capt": {}, "prof": {}, "professor": {}, "rev": {}, "reverend": {},
	"sgt": {}, "sergeant": {}, "lt": {}, "lieutenant": {}, "col": {}, "colonel": {},
	"gen": {}, "general": {}, "detective": {}, "det": {}, "officer": {}, "agent": {},
	"king": {}, "queen": {}, "prince": {}, "princess": {}, "uncle": {}, "aunt": {},
}

var articles = map[string]struct{}{
	"the": {}, "a": {}, "an": {},
}

var entityNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("narrative-memory-graph/entity"))

// baseTokens folds case, strips diacritics and possessives and splits on
// anything that is not a letter or digit.
func baseTokens(name string) []string {
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	s, _, err := transform.String(stripMarks, name)
	if err != nil {
		s = name
	}
	s = cases.Fold().String(s)
	s = strings.NewReplacer("’", "'", "‘", "'", "`", "'").Replace(s)

	var tokens []string
	for _, field := range strings.Fields(s) {
		field = strings.TrimSuffix(field, "'s")
		field = strings.ReplaceAll(field, "'", "")
		tokens = append(tokens, strings.FieldsFunc(field, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})...)
	}
	return tokens
}

// baseKey is the type independent form of a name.
func baseKey(name string) string {
	return strings.Join(baseTokens(name), " ")
}

// ResolutionKey is the comparison form of an entity name. Characters lose
// leading honorifics; locations, organizations and themes lose a leading
// article. A name is never stripped down to nothing.
func ResolutionKey(name string, t common.EntityType) string {
	tokens := baseTokens(name)

	var strip map[string]struct{}
	switch t {
	case common.EntityCharacter:
		strip = honorifics
	case common.EntityLocation, common.EntityOrganization, common.EntityTheme:
		strip = articles
	}
	if strip != nil {
		for len(tokens) > 1 {
			if _, ok := strip[tokens[0]]; !ok {
				break
			}
			tokens = tokens[1:]
		}
	}
	return strings.Join(tokens, " ")
}

// EntityID derives the stable id of an entity from its type and canonical name.
func EntityID(name string, t common.EntityType) string {
	key := string(t) + "|" + ResolutionKey(name, t)
	return "ent_" + uuid.NewSHA1(entityNamespace, []byte(key)).String()
}

// snakeCase lowercases s and joins its words with underscores.
func snakeCase(s string) string {
	return strings.Join(baseTokens(s), "_")
}
