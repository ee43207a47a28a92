package ai

const NarrativeSystemPrompt = `You are a literary analyst who turns narrative text into a structured memory graph.
You only report what the text supports. You never invent characters, places or relationships.`

const NarrativeGraphPrompt = `
# Task Context
Build the memory graph of the narrative below: the people, places, groups, themes and
points in time it mentions, and how they relate to each other.

# Candidate Entities
A local tagger suggested these spans. They may be incomplete or wrong; use them as hints only.
%s

# Suggested Themes
%s

# Detailed Task Description & Rules
- Entity types must be one of: character, location, organization, theme, time_reference.
- Use the fullest name the text gives as "name" (e.g. "Dr. Elena Vance") and list every other
  way the text refers to the same entity in "aliases" (e.g. "Elena", "Dr. Vance").
- Never merge two different people because they share a first name.
- "mentions" is how often the entity is referred to in the text, at least 1.
- "description" is one short sentence about the entity's role in the narrative.
- Relationships use entity names exactly as given in "name".
- Relationship "type" is one of: friend, enemy, rival, mentor, student, family, employer,
  romantic, conflict, ally, neutral, located_in, present_at, part_of, member_of, leads_to,
  occurs_at, embodies. Use present_at when a character is at a location, occurs_at for
  points in time and embodies for themes.
- "label" is a short human readable phrase, "weight" is the strength from 0.1 to 1.0.
- "summary" is a 2-3 sentence synopsis of the narrative, "themes" at most 6 short theme names.

# Narrative
%s
`
