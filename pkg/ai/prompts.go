package ai

const CognitiveMapPrompt = `
# Task Context
You are building a cognitive map of one document for the topic "%s". The map is a short digest that later stages use as cheap context instead of the full text.

# Background Data
<document>
%s
</document>

# Detailed Task Description & Rules
- Write a summary of two or three sentences that captures what the document says about the topic.
- List 5-10 key entities (people, organizations, systems, concepts, events) that matter for the topic.
- List 5-8 theme keywords.
- List important timeline entries in the form "event: date". Use explicit dates where the text gives them and implicit references ("after the migration", "Q1 2024") where it does not.
- Name the dominant structural pattern of the document: chronological, hierarchical, process_flow, problem_solution or comparison.
- Focus on content relevant to "%s". Ignore boilerplate.

# Output Formatting
Return a JSON object surrounded by ` + "```json and ```" + ` with this structure:
{
  "summary": "2-3 sentence summary",
  "key_entities": ["entity1", "entity2"],
  "theme_keywords": ["keyword1", "keyword2"],
  "important_timeline": ["event: date"],
  "structural_patterns": "chronological|hierarchical|process_flow|problem_solution|comparison"
}
Return only the JSON.
`

const SkeletalGraphPrompt = `
# Task Context
You are drafting the skeletal graph of the topic "%s": the handful of core entities and relationships that hold the whole topic together. Detailed facts are extracted later, document by document.

# Background Data
Cognitive maps of %d documents:
<cognitive_maps>
%s
</cognitive_maps>

# Detailed Task Description & Rules
- Select the 10-30 entities that recur across documents or anchor the topic.
- Use one canonical name per real world entity, even when documents spell it differently.
- Describe what each entity IS, not how it relates to others.
- Connect the entities with the relationships that define the topic's structure. Both endpoints must be names from your entity list.
- Only use information present in the cognitive maps.

# Output Formatting
Return a JSON object surrounded by ` + "```json and ```" + `:
{
  "skeletal_entities": [
    {"name": "Entity name", "description": "what the entity is", "attributes": {"entity_type": "Person|Organization|System|Concept|Event"}}
  ],
  "skeletal_relationships": [
    {"source_entity": "Entity name", "target_entity": "Entity name", "relationship_desc": "how they are connected", "attributes": {}}
  ]
}
`

const BlueprintPrompt = `
# Task Context
You are a master strategist analyzing cognitive maps from %d documents about "%s". Generate a GLOBAL BLUEPRINT that coordinates extraction across all documents and captures what no single document can show.

# Background Data
<cognitive_maps_collection>
%s
</cognitive_maps_collection>
%s
# Detailed Task Description & Rules
1. Suggested entity types: the entity types extraction should use for this topic.
2. Key narrative themes: the cross-document storylines of the topic.
3. Canonical entities: entities mentioned with different names across documents (e.g. "Google", "Google Inc."). Pick one normalized name and list the aliases.
4. Key patterns: describe relationship, temporal and narrative patterns in rich natural language instead of atomic "A-relation-B" statements.
5. Global timeline: merge the timelines of all documents into one chronological frame and note cross-document event chains.
6. Processing instructions: guidance for the detailed extraction stage on conflict handling, quality focus, extraction emphasis and cross-document insights. This field is mandatory.

Focus on insights that are impossible to derive from any single document alone.

# Output Formatting
Return a JSON object surrounded by ` + "```json and ```" + `:
{
  "suggested_entity_types": ["Person", "Organization"],
  "key_narrative_themes": ["theme"],
  "canonical_entities": {
    "normalized name": {"aliases": ["variation"], "entity_type": "Organization", "primary_source": "document name", "description": "unified description"}
  },
  "key_patterns": {
    "relationship_patterns": ["..."],
    "temporal_patterns": ["..."],
    "narrative_themes": ["..."]
  },
  "global_timeline": [
    {"period": "2023-Q1", "key_events": ["..."], "cross_document_connections": ["..."]}
  ],
  "processing_instructions": {
    "conflict_handling": "...",
    "quality_focus": "...",
    "extraction_emphasis": "...",
    "cross_document_insights": "..."
  }
}
`

const NarrativeTripletPrompt = `
# Task Context
You are an expert knowledge extractor working on "%s" documents. Extract narrative triplets: facts together with the WHY, HOW and WHEN context that explains them.

# Background Data
## Global Blueprint
- Suggested entity types: %s
- Key narrative themes: %s
- Canonical entities and patterns:
%s

## Processing Instructions
%s

## Document Cognitive Map
%s

<document_content>
%s
</document_content>

# Detailed Task Description & Rules
- Use canonical entity names from the blueprint when an entity matches one.
- Every entity description and relationship MUST be supported by explicit text of the document. Do not infer facts the text does not state.
- Entity description = what the entity IS (intrinsic properties). Relationship description = how the entities interact (who, what, when, where, why, how).
- For every triplet identify when the fact occurred or was true:
  * explicit markers such as "2024-03-15", "Q1 2024", "v2.0"
  * contextual markers such as "after the launch", "during development", with the document date as baseline
  * write the result as "2024-03-15", "2024-03", "Q1 2024", "late 2023" or an event based expression

# Output Formatting
Return a JSON array surrounded by ` + "```json and ```" + `:
[
  {
    "subject": {"name": "Entity name", "description": "what the entity is", "attributes": {"entity_type": "one of the suggested types"}},
    "predicate": "rich narrative of how the entities interact",
    "object": {"name": "Entity name", "description": "what the entity is", "attributes": {"entity_type": "one of the suggested types"}},
    "relationship_attributes": {"timestamp": "when the fact was true", "time_expression": "original wording", "sentiment": "positive|negative|neutral"}
  }
]
Return an empty array when the document holds no valuable facts.
`

const StructuralTripletPrompt = `
# Task Context
You are mapping the structure of "%s" documents. Extract structural triplets that place the document's content in a topic -> aspect -> component -> detail hierarchy.

# Background Data
## Global Blueprint
- Suggested entity types: %s
- Key narrative themes: %s

## Processing Instructions
%s

## Document Cognitive Map
%s

<document_content>
%s
</document_content>

# Detailed Task Description & Rules
- Start from the topic "%s" and its major aspects, then the components of each aspect, then concrete details.
- Every triplet carries a hierarchy_level: "topic_to_aspect", "aspect_to_component" or "component_to_detail".
- Use canonical entity names and keep descriptions grounded in the document text.

# Output Formatting
Return a JSON array surrounded by ` + "```json and ```" + `:
[
  {
    "subject": {"name": "Parent", "description": "what the parent is", "attributes": {"entity_type": "type"}},
    "predicate": "how the child belongs to the parent",
    "object": {"name": "Child", "description": "what the child is", "attributes": {"entity_type": "type"}},
    "relationship_attributes": {"hierarchy_level": "topic_to_aspect|aspect_to_component|component_to_detail", "timestamp": "when it was true, if stated"}
  }
]
`

const graphQualityObjectives = `A high-quality knowledge graph is:
- Non-redundant: every real-world concept and connection appears once.
- Coherent: entities and relationships form a logical, consistent structure of the domain.
- Precise: definitions and descriptions are clear and unambiguous.
- Factually accurate: the graph reflects the domain correctly.
- Efficiently connected: essential links exist, misleading or needless ones do not.
`

const RedundantEntityGuideline = `**Redundant Entities** (redundancy_entity):
- Definition: two or more entity entries represent the exact same real-world entity or concept, identical in type and instance.
- Identification: highly similar names, aliases and descriptions that clearly refer to the same thing without a meaningful distinction.
- Exclusion: entities on different levels of a clear hierarchy ("Artificial Intelligence" vs. "Machine Learning") and distinct but related concepts ("Company A" vs. "CEO of Company A") are not redundant.
`

const RedundantRelationshipGuideline = `**Redundant Relationships** (redundancy_relationship):
- Definition: two or more relationship entries connect the same pair of entities (or entities that are redundant duplicates) with the same meaning.
- Identification: identical or near identical entity pairs and descriptions that convey the exact same connection. Minor wording differences that keep the core meaning are still redundant.
- Example: "User purchased Product" and "Customer ordered Product" are redundant. "User purchased Product in 2023" and "Customer purchased Product in 2024" are not.
- Overlap between an entity description and a relationship attached to it is acceptable context and does not make the relationship redundant.
`

const EntityQualityGuideline = `**Entity Quality Issues** (entity_quality_issue):
- Definition: a fundamental flaw in a single entity's definition, description or attributes that hinders its clarity, accuracy or usability. Merely lacking detail is not a flaw.
- Inconsistent claims: attributes that contradict each other, e.g. "Status: Active" together with "Status: Deleted".
- Meaningless description: generic or placeholder text that does not define the entity, e.g. "An item", "Data entry", "See notes".
- Ambiguous definition: name and description could plausibly refer to several distinct real-world entities in the graph's context, e.g. "System" described as "Manages data processing" in a graph with several such systems.
`

const RelationshipQualityGuideline = `**Relationship Quality Issues** (relationship_quality_issue):
- Definition: a fundamental flaw in a single relationship's definition or description that obscures the nature of the connection. Merely lacking detail is not a flaw.
- Contradictory definitions: conflicting attributes or logic.
- Unclear meaning: the description is so vague that the connection cannot be understood, e.g. "System A affects System B" without saying how.
- Do NOT flag a relationship only because its description could be more detailed.
`

const IssueDetectionPrompt = `
# Task Context
You are a knowledge graph expert. Analyze the graph below and find quality issues in a knowledge graph so that they can be repaired without losing knowledge.

# Quality Objectives
` + graphQualityObjectives + `
# Issue Types
` + RedundantEntityGuideline + `
` + RedundantRelationshipGuideline + `
` + EntityQualityGuideline + `
` + RelationshipQualityGuideline + `
# Background Data
<graph>
%s
</graph>

# Detailed Task Description & Rules
- Only use ids that appear in the graph.
- redundancy_entity: affected_ids holds every duplicate entity id, at least two.
- redundancy_relationship: affected_ids holds every duplicate relationship id, at least two.
- entity_quality_issue: affected_ids holds exactly one entity id.
- relationship_quality_issue: affected_ids holds exactly one relationship id.
- Take your time and be thorough. Report nothing you are unsure about.

# Output Formatting
First write your reasoning for every candidate issue inside a <think></think> block.
Then return the issues as a JSON array surrounded by ` + "```json and ```" + ` at the very end of your answer:
[
  {
    "reasoning": "short justification taken from your analysis",
    "confidence": "low|moderate|high|very_high",
    "issue_type": "redundancy_entity|redundancy_relationship|entity_quality_issue|relationship_quality_issue",
    "affected_ids": ["id1", "id2"]
  }
]
Return ` + "```json[]```" + ` when the graph has no issues.
`

const IssueCriticPrompt = `
# Task Context
You are a knowledge graph quality expert. Decide whether a reported issue actually exists in the given graph.

# Quality Standards
` + graphQualityObjectives + `
# Issue Identification Guidelines
%s
# Background Data
## Graph Data
%s

## Reported Issue
- Type: %s
- %s
- Reasoning: %s

# Detailed Task Description & Rules
For %s issues:
- is_valid true: the listed elements DO have the %s problem.
- is_valid false: the listed elements do NOT have the %s problem.
The reasoning may itself argue that no problem exists. If it argues that correctly, is_valid is false.
Base your judgment only on the graph data and the definition above.

# Output Formatting
Return a JSON object surrounded by ` + "```json and ```" + `:
{
  "is_valid": true,
  "critique": "why the problem does or does not exist, citing graph elements"
}
`

const EntityRewritePrompt = `
# Task Context
You are curating a knowledge graph and rewrite one entity so that its quality issue is resolved. The result must be accurate, coherent and self-contained.

# Background Data
## Quality Issue
%s

## Entity To Improve
%s

## Relationships Of The Entity
%s

## Source Knowledge
%s

# Detailed Task Description & Rules
- Name: precise and unambiguous. Keep a meaningful former name as an alias in attributes.aliases.
- Description: a new, coherent text that fixes the reported issue using the entity, its relationships and the source knowledge.
- Attributes: correct wrong values, drop unsupported ones, add missing ones that matter.
- Every statement must be supported by the background data. Never invent facts.

# Output Formatting
Return a JSON object surrounded by ` + "```json and ```" + `:
{
  "name": "...",
  "description": "...",
  "attributes": {}
}
`

const EntityMergePrompt = `
# Task Context
You are curating a knowledge graph and merge redundant entities into one authoritative entity that keeps every valuable fact of the originals.

# Background Data
## Redundancy Issue
%s

## Entities To Merge
%s

## Relationships Of These Entities
%s

## Source Knowledge
%s

# Detailed Task Description & Rules
- Identify the abstraction level of each entity (concept, product, version, instance) and choose the level that serves the graph best. Prefer the entity with more relationships and richer evidence.
- Name: the name that best represents the merged scope.
- Description: one layered text from general context to specifics, integrating the unique information of every original.
- Attributes: the union of non-conflicting attributes. Resolve conflicts in favour of the more specific, evidence backed value.
- Never invent facts that the background data does not support.

# Output Formatting
Return a JSON object surrounded by ` + "```json and ```" + `:
{
  "name": "...",
  "description": "...",
  "attributes": {}
}
`

const RelationshipRewritePrompt = `
# Task Context
You are curating a knowledge graph and rewrite one relationship so that its quality issue is resolved and its meaning is clear, accurate and truthful.

# Background Data
## Quality Issue
%s

## Relationship To Improve
%s

## Source Knowledge
%s

# Detailed Task Description & Rules
- Description: explain precisely how the source entity connects to the target entity, fixing the reported issue.
- Attributes: keep supported values, correct wrong ones, add valuable ones from the source knowledge, remove unsupported ones.
- Every statement must be supported by the source knowledge.
- Keep the entity names of the relationship as they are.

# Output Formatting
Return a JSON object surrounded by ` + "```json and ```" + `:
{
  "source_entity_name": "...",
  "target_entity_name": "...",
  "relationship_desc": "...",
  "attributes": {}
}
`

const RelationshipMergePrompt = `
# Task Context
You are curating a knowledge graph and merge redundant relationships into one authoritative relationship.

# Background Data
## Redundancy Issue
%s

## Relationships To Merge
%s

## Source Knowledge
%s

# Detailed Task Description & Rules
- Combine the unique information of every relationship into one description that is clearer than any of the originals.
- When descriptions conflict prefer the specific, evidence backed version.
- Attributes: the union of non-conflicting attributes, conflicts resolved by evidence.
- source_entity_id and target_entity_id must be ids from the relationships above.

# Output Formatting
Return a JSON object surrounded by ` + "```json and ```" + `:
{
  "source_entity_id": "...",
  "target_entity_id": "...",
  "relationship_desc": "...",
  "attributes": {}
}
`

const ChatSummaryPrompt = `
# Task Context
You summarize one conversation between a user and an assistant as a short narrative. The summary is stored as the user's memory of the conversation.

# Background Data
Title: %s
Date: %s

<conversation>
%s
</conversation>

# Detailed Task Description & Rules
- Stay faithful to the messages. Quote the user and the assistant directly where it helps.
- Keep the real order of events and mention actual dates and sessions.
- Include concrete details, decisions and actions that were stated.
- Do not interpret emotions, guess motivations or add metaphors that are not in the text.
- Open with the time and session context, then the course of the conversation, then its outcome.

# Output Formatting
Return the summary as plain text.
`

// PersonalMemoryInstructions replace the generated processing instructions
// of personal memory topics.
const PersonalMemoryInstructions = `Extract insights about the user as a person from the conversation history.

SIGNALS TO MONITOR:
- Statements of identity and role, professional or personal ("As a product manager...", "I'm a father of two").
- Topics and interests the user keeps coming back to.
- Goals, plans and challenges in any part of life.
- Significant life events and achievements such as moves, launches, publications or first races.
- Learning and growth, visible as questions that become more advanced over time.
- Opinions, preferences and dislikes.
- Resources, tools, products, brands and authors the user relies on.

ORGANIZATION:
- Cluster related signals into one insight instead of many small facts.
- State each insight as a short sentence about the user and attach a confidence (High, Medium or Low) and a temporal context (a date, a range or "ongoing").
- Back every insight with evidence: the message it came from and its timestamp.

CONFLICTS AND REPETITION:
- A contradiction is a change over time. Keep both insights and separate them by temporal context.
- A repeated topic strengthens the existing insight. Raise its confidence and update its temporal context instead of creating a duplicate.`
