// Package governance implements the per-task governance state machine for
// the five-stage content pipeline: the static policy catalog, the API call
// tracker, the violation log, and the policy enforcer that every tool
// invocation must pass before touching a corpus, the retrieval endpoint,
// or an external model.
package governance

// Stage identifies one of the five pipeline roles. All policy decisions
// are keyed by stage.
type Stage string

const (
	StageIdeator    Stage = "ideator"
	StageDrafter    Stage = "drafter"
	StageCritic     Stage = "critic"
	StageRevisor    Stage = "revisor"
	StageSummarizer Stage = "summarizer"
)

// stageOrder is the canonical pipeline sequence. The Catalog exposes it;
// nothing else may hard-code stage order.
var stageOrder = []Stage{
	StageIdeator,
	StageDrafter,
	StageCritic,
	StageRevisor,
	StageSummarizer,
}

// ValidStage reports whether s is one of the five pipeline stages.
func ValidStage(s Stage) bool {
	for _, v := range stageOrder {
		if v == s {
			return true
		}
	}
	return false
}

// Corpus identifies one of the three searchable corpora.
type Corpus string

const (
	CorpusPersonal  Corpus = "personal"
	CorpusSocial    Corpus = "social"
	CorpusPublished Corpus = "published"
)

// Corpora returns the closed corpus enumeration.
func Corpora() []Corpus {
	return []Corpus{CorpusPersonal, CorpusSocial, CorpusPublished}
}

// ParseCorpus maps a free-form string to a corpus value. Used by the tool
// wrapper to discover a corpus argument positionally.
func ParseCorpus(s string) (Corpus, bool) {
	switch Corpus(s) {
	case CorpusPersonal, CorpusSocial, CorpusPublished:
		return Corpus(s), true
	}
	return "", false
}

// Named permissions checked by ValidateStagePermissions. The first four
// map onto fields of StagePermissions; the rest are stage-identity
// permissions that only the named stage holds.
const (
	PermCorpusAccess       = "corpus_access"
	PermRetrievalAccess    = "retrieval_access"
	PermTransformerAccess  = "transformer_access"
	PermAPIAccess          = "api_access"
	PermOutlineGeneration  = "outline_generation"  // Ideator only
	PermDraftGeneration    = "draft_generation"    // Drafter only
	PermTruthValidation    = "truth_validation"    // Critic only
	PermRevisionControl    = "revision_control"    // Revisor only
	PermFinalSummarization = "final_summarization" // Summarizer only
)

// stageIdentityPerms maps identity permissions to the stage that owns them.
var stageIdentityPerms = map[string]Stage{
	PermOutlineGeneration:  StageIdeator,
	PermDraftGeneration:    StageDrafter,
	PermTruthValidation:    StageCritic,
	PermRevisionControl:    StageRevisor,
	PermFinalSummarization: StageSummarizer,
}
