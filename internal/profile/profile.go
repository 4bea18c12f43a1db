// Package profile maps intents to prompt profiles and composes system
// prompts from layered prompt assets. Profiles come from the project
// registry under .clude/registry/ with hot reload; a builtin default covers
// projects without one.
package profile

import "github.com/cludelabs/clude/internal/intent"

// RiskLevel gates what the risk router lets a profile's tools do.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// ValidRisk reports whether s is a known risk level.
func ValidRisk(s string) bool {
	switch RiskLevel(s) {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// SystemRefs names the four prompt layers composed into the system prompt,
// in composition order.
type SystemRefs struct {
	Core    string `yaml:"core"`
	Role    string `yaml:"role"`
	Policy  string `yaml:"policy"`
	Context string `yaml:"context"`
}

// Profile is one prompt profile.
type Profile struct {
	Name            string
	RiskLevel       RiskLevel
	System          SystemRefs
	UserTemplateRef string
	// PlanningEnabled controls whether the executor builds an explicit plan.
	// Chat-like intents force it off regardless of this flag.
	PlanningEnabled bool
}

// Builtin profile names.
const (
	ProfileCoding     = "coding"
	ProfileDiagnosis  = "diagnosis"
	ProfileAnalysis   = "analysis"
	ProfileConsulting = "consulting"
	ProfileChat       = "chat"
)

// builtinProfiles are used when the project registry is absent or broken.
func builtinProfiles() map[string]Profile {
	return map[string]Profile{
		ProfileCoding: {
			Name:      ProfileCoding,
			RiskLevel: RiskMedium,
			System: SystemRefs{
				Core:    "core.md",
				Role:    "role_coder.md",
				Policy:  "policy_standard.md",
				Context: "context_workspace.md",
			},
			UserTemplateRef: "user_task.md",
			PlanningEnabled: true,
		},
		ProfileDiagnosis: {
			Name:      ProfileDiagnosis,
			RiskLevel: RiskLow,
			System: SystemRefs{
				Core:    "core.md",
				Role:    "role_diagnostician.md",
				Policy:  "policy_standard.md",
				Context: "context_workspace.md",
			},
			UserTemplateRef: "user_task.md",
			PlanningEnabled: true,
		},
		ProfileAnalysis: {
			Name:      ProfileAnalysis,
			RiskLevel: RiskLow,
			System: SystemRefs{
				Core:    "core.md",
				Role:    "role_analyst.md",
				Policy:  "policy_standard.md",
				Context: "context_workspace.md",
			},
			UserTemplateRef: "user_task.md",
			PlanningEnabled: true,
		},
		ProfileConsulting: {
			Name:      ProfileConsulting,
			RiskLevel: RiskLow,
			System: SystemRefs{
				Core:    "core.md",
				Role:    "role_consultant.md",
				Policy:  "policy_standard.md",
				Context: "context_workspace.md",
			},
			UserTemplateRef: "user_question.md",
			PlanningEnabled: false,
		},
		ProfileChat: {
			Name:      ProfileChat,
			RiskLevel: RiskLow,
			System: SystemRefs{
				Core:    "core.md",
				Role:    "role_chat.md",
				Policy:  "policy_standard.md",
				Context: "",
			},
			UserTemplateRef: "user_question.md",
			PlanningEnabled: false,
		},
	}
}

// builtinIntentMap is the default intent-to-profile routing.
func builtinIntentMap() map[intent.Category]string {
	return map[intent.Category]string{
		intent.CodingTask:          ProfileCoding,
		intent.ErrorDiagnosis:      ProfileDiagnosis,
		intent.RepoAnalysis:        ProfileAnalysis,
		intent.TechnicalConsulting: ProfileConsulting,
		intent.GeneralChat:         ProfileChat,
		intent.CapabilityInquiry:   ProfileChat,
		intent.Uncertain:           ProfileConsulting,
	}
}

// chatLikeIntents never plan, whatever the profile says.
var chatLikeIntents = map[intent.Category]bool{
	intent.GeneralChat:       true,
	intent.CapabilityInquiry: true,
}
