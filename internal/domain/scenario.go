package domain

import "slices"

// FailureMode is the prompting strategy the annotator follows to provoke a
// failure from the models.
type FailureMode string

// FailureMode values.
const (
	FailureModeCourseCorrection     FailureMode = "course_correction"
	FailureModeInstructionRetention FailureMode = "instruction_retention"
	FailureModeTaskContinuation     FailureMode = "task_continuation"
)

var failureModes = []struct {
	mode        FailureMode
	description string
}{
	{FailureModeCourseCorrection, "Use underspecified prompts throughout the entire intent scenario."},
	{FailureModeInstructionRetention, "Avoid underspecified prompts. Use clearer prompts throughout the intent scenario."},
	{FailureModeTaskContinuation, "After you've established a clear context, use underspecified prompts."},
}

// FailureModes returns every failure mode in catalog order.
func FailureModes() []FailureMode {
	out := make([]FailureMode, len(failureModes))
	for i, fm := range failureModes {
		out[i] = fm.mode
	}
	return out
}

// IsValid reports whether f is a known failure mode.
func (f FailureMode) IsValid() bool { return f.Description() != "" }

// Description returns the annotator guidance for f, or "" when unknown.
func (f FailureMode) Description() string {
	for _, fm := range failureModes {
		if fm.mode == f {
			return fm.description
		}
	}
	return ""
}

// Intent is the category of user goal the conversation simulates.
type Intent string

// Intent values.
const (
	IntentInformational         Intent = "informational"
	IntentDiscovery             Intent = "discovery"
	IntentWritingTasks          Intent = "writing_tasks"
	IntentSkillAcquisition      Intent = "skill_acquisition"
	IntentReasoningExercise     Intent = "reasoning_exercise"
	IntentPersonalAdviceSeeking Intent = "personal_advice_seeking"
	IntentCoding                Intent = "coding"
)

// intentCatalog maps each intent to its sub-categories. The first entry is
// the default applied whenever the intent changes.
var intentCatalog = []struct {
	intent Intent
	subs   []string
}{
	{IntentInformational, []string{"Factual Queries", "Concept Explanation", "General Conversation", "Biography", "Other"}},
	{IntentDiscovery, []string{"Experiences", "Entertainment", "Other"}},
	{IntentWritingTasks, []string{"Editing & Proofreading", "Summarizing", "Translation", "E-mail writing", "Other"}},
	{IntentSkillAcquisition, []string{"Language Learning", "Translation", "Other"}},
	{IntentReasoningExercise, []string{"Logic and Reasoning Problems", "Exam & Quiz Answering", "Maths & Physics problems", "Other"}},
	{IntentPersonalAdviceSeeking, []string{"Symptom Checking & Medical Advice", "Tax Advice", "Legal Advice", "Parenting Advice, etc.", "Other"}},
	{IntentCoding, []string{"Code Generation", "Code Understanding", "Code Testing", "Code Debugging", "Other"}},
}

// Intents returns every intent in catalog order.
func Intents() []Intent {
	out := make([]Intent, len(intentCatalog))
	for i, e := range intentCatalog {
		out[i] = e.intent
	}
	return out
}

// SubCategories returns a copy of the sub-categories for i, or nil when i is
// unknown.
func (i Intent) SubCategories() []string {
	for _, e := range intentCatalog {
		if e.intent == i {
			return slices.Clone(e.subs)
		}
	}
	return nil
}

// IsValid reports whether i is a known intent.
func (i Intent) IsValid() bool { return len(i.SubCategories()) > 0 }

// DefaultSubCategory returns the first sub-category of i.
func (i Intent) DefaultSubCategory() string {
	subs := i.SubCategories()
	if len(subs) == 0 {
		return ""
	}
	return subs[0]
}

// HasSubCategory reports whether sub belongs to i.
func (i Intent) HasSubCategory(sub string) bool {
	return slices.Contains(i.SubCategories(), sub)
}

// Configuration holds the scenario parameters that seed a conversation.
type Configuration struct {
	FailureMode  FailureMode `json:"failure_mode" validate:"required,failure_mode"`
	Intent       Intent      `json:"intent" validate:"required,intent"`
	SubCategory  string      `json:"sub_category" validate:"required"`
	SystemPrompt string      `json:"system_prompt"`
}

// DefaultConfiguration returns the first failure mode, the first intent and
// its default sub-category, with an empty system prompt.
func DefaultConfiguration() Configuration {
	return Configuration{
		FailureMode: FailureModeCourseCorrection,
		Intent:      IntentInformational,
		SubCategory: IntentInformational.DefaultSubCategory(),
	}
}

// Normalize resets a sub-category that does not belong to the intent to the
// intent's default.
func (c Configuration) Normalize() Configuration {
	if !c.Intent.HasSubCategory(c.SubCategory) {
		c.SubCategory = c.Intent.DefaultSubCategory()
	}
	return c
}

// Validate checks enum membership and sub-category consistency. An empty
// system prompt is allowed here; see ValidateForStart.
func (c Configuration) Validate() error {
	if err := validate.Struct(c); err != nil {
		return validationError(ErrInvalidConfiguration, err)
	}
	if !c.Intent.HasSubCategory(c.SubCategory) {
		return validationError(ErrInvalidConfiguration,
			errSubCategory{intent: c.Intent, sub: c.SubCategory})
	}
	return nil
}

// ValidateForStart additionally requires a non-blank system prompt.
func (c Configuration) ValidateForStart() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if isBlank(c.SystemPrompt) {
		return ErrEmptySystemPrompt
	}
	return nil
}

type errSubCategory struct {
	intent Intent
	sub    string
}

func (e errSubCategory) Error() string {
	return "sub-category " + e.sub + " does not belong to intent " + string(e.intent)
}

// ConfigurationPatch is a partial configuration update. Nil fields are left
// unchanged.
type ConfigurationPatch struct {
	FailureMode  *FailureMode `json:"failure_mode,omitempty"`
	Intent       *Intent      `json:"intent,omitempty"`
	SubCategory  *string      `json:"sub_category,omitempty"`
	SystemPrompt *string      `json:"system_prompt,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p ConfigurationPatch) IsEmpty() bool {
	return p.FailureMode == nil && p.Intent == nil && p.SubCategory == nil && p.SystemPrompt == nil
}

// Apply returns c with p applied. Changing the intent resets the sub-category
// to the new intent's default unless p also names a member of the new set; a
// stale sub-category is corrected the same way.
func (c Configuration) Apply(p ConfigurationPatch) Configuration {
	if p.FailureMode != nil {
		c.FailureMode = *p.FailureMode
	}
	if p.Intent != nil && *p.Intent != c.Intent {
		c.Intent = *p.Intent
		c.SubCategory = c.Intent.DefaultSubCategory()
	}
	if p.SubCategory != nil {
		c.SubCategory = *p.SubCategory
	}
	if p.SystemPrompt != nil {
		c.SystemPrompt = *p.SystemPrompt
	}
	return c.Normalize()
}
