package graph

import (
	"cmp"
	"slices"
	"strings"

	"github.com/narrativeiq/backend/pkg/common"
	"github.com/narrativeiq/backend/pkg/logger"
	"github.com/narrativeiq/backend/pkg/metrics"

	mapset "github.com/deckarep/golang-set/v2"
)

// DefaultMinMentions is the number of mentions a locally found entity needs
// when the structuring pass did not report it.
const DefaultMinMentions = 2

// ResolveOptions tunes entity resolution.
type ResolveOptions struct {
	MinMentions    int
	AllowSelfLoops bool
}

// Resolution is the deduplicated output of the resolver.
type Resolution struct {
	Entities             []common.Entity
	Relationships        []common.Relationship
	DroppedEntities      int
	DroppedRelationships int
}

// record is one surface form feeding resolution: an LLM entity or all local
// candidates sharing a key.
type record struct {
	name        string
	key         string
	typ         common.EntityType
	llm         bool
	aliases     []string
	aliasKeys   []string
	mentions    int
	description string
	order       int
}

func (r *record) tokens() int {
	return len(strings.Fields(r.key))
}

type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

// union keeps the lower index as root so grouping does not depend on call order.
func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if rb < ra {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
}

func typesCompatible(a, b *record) bool {
	if !a.llm || !b.llm {
		return true
	}
	return a.typ == "" || b.typ == "" || a.typ == b.typ
}

// fullNamesConflict guards against linking two different full names, such as
// "John Carter" and "John Smith", through a misreported alias.
func fullNamesConflict(a, b *record) bool {
	if a.typ != common.EntityCharacter && b.typ != common.EntityCharacter {
		return false
	}
	if a.tokens() < 2 || b.tokens() < 2 || a.key == b.key {
		return false
	}
	ta, tb := strings.Fields(a.key), strings.Fields(b.key)
	if len(ta) > len(tb) {
		ta, tb = tb, ta
	}
	for _, tok := range ta {
		if !slices.Contains(tb, tok) {
			return true
		}
	}
	return false
}

// buildRecords turns LLM entities and local candidates into records. LLM
// records come first in LLM order, local records follow in text order.
func buildRecords(llmEntities []rawEntity, candidates []common.Candidate) []*record {
	records := make([]*record, 0, len(llmEntities)+len(candidates))

	for _, e := range llmEntities {
		key := ResolutionKey(e.Name, e.Type)
		if key == "" {
			continue
		}
		r := &record{
			name:        e.Name,
			key:         key,
			typ:         e.Type,
			llm:         true,
			mentions:    max(e.Mentions, 1),
			description: e.Description,
			order:       len(records),
		}
		for _, alias := range e.Aliases {
			ak := ResolutionKey(alias, e.Type)
			if ak == "" {
				continue
			}
			r.aliases = append(r.aliases, alias)
			if ak != key {
				r.aliasKeys = append(r.aliasKeys, ak)
			}
		}
		records = append(records, r)
	}

	type localAgg struct {
		rec       *record
		surfaces  map[string]int
		typeVotes map[common.EntityType]int
		first     []string
	}
	var locals []*localAgg
	byKey := make(map[string]*localAgg)
	for _, c := range candidates {
		key := ResolutionKey(c.Text, c.Type)
		if key == "" {
			continue
		}
		agg, ok := byKey[key]
		if !ok {
			agg = &localAgg{
				rec:       &record{key: key, order: len(llmEntities) + len(locals)},
				surfaces:  make(map[string]int),
				typeVotes: make(map[common.EntityType]int),
			}
			byKey[key] = agg
			locals = append(locals, agg)
		}
		if _, seen := agg.surfaces[c.Text]; !seen {
			agg.first = append(agg.first, c.Text)
		}
		agg.surfaces[c.Text]++
		agg.typeVotes[c.Type]++
		agg.rec.mentions++
	}

	for _, agg := range locals {
		r := agg.rec
		best := 0
		for _, s := range agg.first {
			if n := agg.surfaces[s]; n > best || (n == best && len(s) > len(r.name)) {
				best, r.name = n, s
			}
		}
		votes := 0
		for _, t := range common.EntityTypes {
			if n := agg.typeVotes[t]; n > votes {
				votes, r.typ = n, t
			}
		}
		r.aliases = agg.first
		r.order = len(records)
		records = append(records, r)
	}
	return records
}

// groupRecords links records that refer to the same entity.
func groupRecords(records []*record) *unionFind {
	uf := newUnionFind(len(records))

	// exact keys between LLM records of compatible type
	llmByKey := make(map[string][]int)
	for i, r := range records {
		if !r.llm {
			continue
		}
		for _, j := range llmByKey[r.key] {
			if typesCompatible(records[j], r) {
				uf.union(j, i)
				break
			}
		}
		llmByKey[r.key] = append(llmByKey[r.key], i)
	}

	// an untyped LLM entity is keyed once per type so the local type can fill in
	untypedByKey := make(map[string][]int)
	for i, r := range records {
		if !r.llm || r.typ != "" {
			continue
		}
		for _, t := range common.EntityTypes {
			k := string(t) + "|" + ResolutionKey(r.name, t)
			if !slices.Contains(untypedByKey[k], i) {
				untypedByKey[k] = append(untypedByKey[k], i)
			}
		}
	}

	// local records join the LLM entity with the same key, preferring the same type
	for i, r := range records {
		if r.llm {
			continue
		}
		matches := llmByKey[r.key]
		if len(matches) == 0 {
			matches = untypedByKey[string(r.typ)+"|"+r.key]
		}
		if len(matches) == 0 {
			continue
		}
		target := matches[0]
		for _, j := range matches {
			if records[j].typ == r.typ {
				target = j
				break
			}
		}
		uf.union(target, i)
	}

	// aliases owned by exactly one LLM entity
	owners := make(map[string][]int)
	var aliasOrder []string
	for i, r := range records {
		if !r.llm {
			continue
		}
		root := uf.find(i)
		for _, ak := range r.aliasKeys {
			if _, ok := owners[ak]; !ok {
				aliasOrder = append(aliasOrder, ak)
			}
			if !slices.Contains(owners[ak], root) {
				owners[ak] = append(owners[ak], root)
			}
		}
	}
	for _, ak := range aliasOrder {
		roots := owners[ak]
		if len(roots) != 1 {
			logger.Debug("[Resolve] Ambiguous alias left unlinked", "alias", ak, "owners", len(roots))
			continue
		}
		owner := records[roots[0]]
		for i, r := range records {
			if r.key != ak || uf.find(i) == uf.find(roots[0]) {
				continue
			}
			if r.llm && (!typesCompatible(owner, r) || fullNamesConflict(owner, r)) {
				continue
			}
			// a local span already matched to an LLM entity by exact name stays there
			if !r.llm && groupHasLLM(uf, records, i) {
				continue
			}
			uf.union(roots[0], i)
		}
	}

	// a lone first or last name joins the only full name it can belong to
	type fullName struct {
		root   int
		tokens []string
	}
	var fullNames []fullName
	groupHasFullName := make(map[int]bool)
	groupDescribed := make(map[int]bool)
	for i, r := range records {
		root := uf.find(i)
		if r.typ == common.EntityCharacter && r.tokens() > 1 {
			fullNames = append(fullNames, fullName{root: root, tokens: strings.Fields(r.key)})
			groupHasFullName[root] = true
		}
		if r.llm && r.description != "" {
			groupDescribed[root] = true
		}
	}
	var links [][2]int
	for i, r := range records {
		if r.typ != common.EntityCharacter || r.tokens() != 1 {
			continue
		}
		// the model described this name as an entity of its own
		if root := uf.find(i); groupHasFullName[root] || groupDescribed[root] {
			continue
		}
		var roots []int
		for _, fn := range fullNames {
			first, last := fn.tokens[0], fn.tokens[len(fn.tokens)-1]
			if (r.key == first || r.key == last) && !slices.Contains(roots, fn.root) {
				roots = append(roots, fn.root)
			}
		}
		if len(roots) == 1 {
			links = append(links, [2]int{roots[0], i})
		} else if len(roots) > 1 {
			logger.Debug("[Resolve] Partial name matches several entities", "name", r.name, "candidates", len(roots))
		}
	}
	for _, l := range links {
		uf.union(l[0], l[1])
	}

	return uf
}

func groupHasLLM(uf *unionFind, records []*record, i int) bool {
	root := uf.find(i)
	for j, r := range records {
		if r.llm && uf.find(j) == root {
			return true
		}
	}
	return false
}

type group struct {
	members []*record
	order   int
}

// canonical picks the record that names the group: the fullest LLM name,
// else the fullest local name, with mentions and order as tie breakers.
func (g *group) canonical() *record {
	var best *record
	for _, r := range g.members {
		if best == nil {
			best = r
			continue
		}
		if r.llm != best.llm {
			if r.llm {
				best = r
			}
			continue
		}
		if r.tokens() != best.tokens() {
			if r.tokens() > best.tokens() {
				best = r
			}
			continue
		}
		if r.mentions > best.mentions {
			best = r
		}
	}
	return best
}

func (g *group) entity() (common.Entity, bool) {
	canon := g.canonical()

	typ := canon.typ
	if typ == "" {
		for _, r := range g.members {
			if !r.llm && r.typ != "" {
				typ = r.typ
				break
			}
		}
	}
	if typ == "" {
		for _, r := range g.members {
			if r.typ != "" {
				typ = r.typ
				break
			}
		}
	}
	if !typ.Valid() {
		return common.Entity{}, false
	}

	aliases := mapset.NewThreadUnsafeSet[string]()
	mentions := 0
	hasLLM, hasLocal := false, false
	description := canon.description
	for _, r := range g.members {
		aliases.Add(r.name)
		for _, a := range r.aliases {
			if a = strings.TrimSpace(a); a != "" {
				aliases.Add(a)
			}
		}
		mentions += r.mentions
		if r.llm {
			hasLLM = true
		} else {
			hasLocal = true
		}
		if description == "" {
			description = r.description
		}
	}

	source := common.ProvenanceLocal
	switch {
	case hasLLM && hasLocal:
		source = common.ProvenanceBoth
	case hasLLM:
		source = common.ProvenanceLLM
	}

	list := aliases.ToSlice()
	slices.Sort(list)

	return common.Entity{
		ID:          EntityID(canon.name, typ),
		Name:        canon.name,
		Type:        typ,
		Aliases:     list,
		Mentions:    mentions,
		Source:      source,
		Description: description,
	}, true
}

// Resolve merges LLM entities and local candidates into unique entities and
// re-points relationships from names to entity ids.
func Resolve(ext extraction, candidates []common.Candidate, opts ResolveOptions) Resolution {
	if opts.MinMentions <= 0 {
		opts.MinMentions = DefaultMinMentions
	}

	records := buildRecords(ext.Entities, candidates)
	uf := groupRecords(records)

	byRoot := make(map[int]*group)
	var groups []*group
	for i, r := range records {
		root := uf.find(i)
		g, ok := byRoot[root]
		if !ok {
			g = &group{order: r.order}
			byRoot[root] = g
			groups = append(groups, g)
		}
		g.members = append(g.members, r)
		g.order = min(g.order, r.order)
	}
	slices.SortStableFunc(groups, func(a, b *group) int {
		return cmp.Compare(a.order, b.order)
	})

	var res Resolution
	index := make(map[string]int)
	lookup := make(map[string][]string)
	// first and last names of characters, consulted only when no full key matches
	partial := make(map[string][]string)
	addTo := func(m map[string][]string, key, id string) {
		if key == "" || slices.Contains(m[key], id) {
			return
		}
		m[key] = append(m[key], id)
	}
	addLookup := func(key, id string) {
		addTo(lookup, key, id)
	}

	for _, g := range groups {
		ent, ok := g.entity()
		if !ok {
			res.DroppedEntities++
			logger.Debug("[Resolve] Dropped entity without type", "name", g.canonical().name)
			continue
		}
		if ent.Source == common.ProvenanceLocal && ent.Mentions < opts.MinMentions {
			res.DroppedEntities++
			logger.Debug("[Resolve] Dropped low-mention local entity", "name", ent.Name, "mentions", ent.Mentions)
			continue
		}

		if at, dup := index[ent.ID]; dup {
			prev := &res.Entities[at]
			merged := mapset.NewThreadUnsafeSet(prev.Aliases...)
			merged.Append(ent.Aliases...)
			prev.Aliases = merged.ToSlice()
			slices.Sort(prev.Aliases)
			prev.Mentions += ent.Mentions
			if prev.Source != ent.Source {
				prev.Source = common.ProvenanceBoth
			}
		} else {
			index[ent.ID] = len(res.Entities)
			res.Entities = append(res.Entities, ent)
		}

		for _, r := range g.members {
			addLookup(baseKey(r.name), ent.ID)
			addLookup(r.key, ent.ID)
		}
		for _, a := range ent.Aliases {
			addLookup(baseKey(a), ent.ID)
			addLookup(ResolutionKey(a, ent.Type), ent.ID)
		}
		if ent.Type == common.EntityCharacter {
			if tokens := strings.Fields(ResolutionKey(ent.Name, ent.Type)); len(tokens) > 1 {
				addTo(partial, tokens[0], ent.ID)
				addTo(partial, tokens[len(tokens)-1], ent.ID)
			}
		}
	}

	resolveName := func(name string) (string, string) {
		keys := []string{
			baseKey(name),
			ResolutionKey(name, common.EntityCharacter),
			ResolutionKey(name, common.EntityLocation),
		}
		for _, k := range keys {
			switch ids := lookup[k]; len(ids) {
			case 0:
				continue
			case 1:
				return ids[0], ""
			default:
				return "", "ambiguous_endpoint"
			}
		}
		switch ids := partial[ResolutionKey(name, common.EntityCharacter)]; len(ids) {
		case 0:
			return "", "unknown_endpoint"
		case 1:
			return ids[0], ""
		default:
			return "", "ambiguous_endpoint"
		}
	}

	for _, rel := range ext.Relationships {
		src, reason := resolveName(rel.Source)
		tgt := ""
		if reason == "" {
			tgt, reason = resolveName(rel.Target)
		}
		if reason == "" && src == tgt && !opts.AllowSelfLoops {
			reason = "self_loop"
		}
		if reason != "" {
			res.DroppedRelationships++
			metrics.DroppedRelationships.WithLabelValues(reason).Inc()
			logger.Debug("[Resolve] Dropped relationship", "source", rel.Source, "target", rel.Target, "reason", reason)
			continue
		}
		res.Relationships = append(res.Relationships, common.Relationship{
			SourceID: src,
			TargetID: tgt,
			Type:     rel.Type,
			Label:    rel.Label,
			Weight:   rel.Weight,
		})
	}

	return res
}
