package entitlements

// Platform feature IDs. The catalog in production deployments is loaded
// from the versioned policy artifact; these constants cover the features
// the platform ships today.
const (
	FeatureSentenceAnalysis FeatureID = "sentence_analysis"
	FeatureGrammarExplain   FeatureID = "grammar_explanations"
	FeatureTTSGeneration    FeatureID = "tts_generation"
	FeatureStoryGeneration  FeatureID = "story_generation"
	FeatureDeckExport       FeatureID = "deck_export"
	FeatureVoiceChat        FeatureID = "voice_chat"
)

// Permissions required by the default features.
const (
	PermAnalyze  Permission = "ai.analyze"
	PermExplain  Permission = "ai.explain"
	PermTTS      Permission = "audio.tts"
	PermStory    Permission = "ai.story"
	PermExport   Permission = "decks.export"
	PermVoice    Permission = "audio.voice_chat"
)

// DefaultCatalog returns the platform's built-in feature registry.
// voice_chat is still behind the hidden lifecycle; only privileged callers
// can evaluate it.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog([]Feature{
		{ID: FeatureSentenceAnalysis, Permission: PermAnalyze, Period: PeriodDaily, Lifecycle: LifecycleActive},
		{ID: FeatureGrammarExplain, Permission: PermExplain, Period: PeriodDaily, Lifecycle: LifecycleActive},
		{ID: FeatureTTSGeneration, Permission: PermTTS, Period: PeriodDaily, Lifecycle: LifecycleActive},
		{ID: FeatureStoryGeneration, Permission: PermStory, Period: PeriodMonthly, Lifecycle: LifecycleActive},
		{ID: FeatureDeckExport, Permission: PermExport, Period: PeriodMonthly, Lifecycle: LifecycleDeprecated},
		{ID: FeatureVoiceChat, Permission: PermVoice, Period: PeriodDaily, Lifecycle: LifecycleHidden},
	})
	if err != nil {
		panic(err) // static data, cannot fail
	}
	return c
}

// DefaultPolicy returns the current deployed policy snapshot.
func DefaultPolicy() *Policy {
	p, err := NewPolicy(3, map[Plan]PlanPolicy{
		PlanGuest: {
			Permissions: map[Permission]bool{
				PermAnalyze: true,
			},
			DailyLimits: map[FeatureID]int{
				FeatureSentenceAnalysis: 3,
			},
		},
		PlanFree: {
			Permissions: map[Permission]bool{
				PermAnalyze: true,
				PermExplain: true,
				PermExport:  true,
			},
			DailyLimits: map[FeatureID]int{
				FeatureSentenceAnalysis: 5,
				FeatureGrammarExplain:   5,
			},
			MonthlyLimits: map[FeatureID]int{
				FeatureDeckExport: 2,
			},
		},
		PlanPremiumMonthly: {
			Permissions: map[Permission]bool{
				PermAnalyze: true,
				PermExplain: true,
				PermTTS:     true,
				PermStory:   true,
				PermExport:  true,
				PermVoice:   true,
			},
			DailyLimits: map[FeatureID]int{
				FeatureSentenceAnalysis: 200,
				FeatureGrammarExplain:   200,
				FeatureTTSGeneration:    100,
				FeatureVoiceChat:        30,
			},
			MonthlyLimits: map[FeatureID]int{
				FeatureStoryGeneration: 50,
				FeatureDeckExport:      Unlimited,
			},
		},
		PlanPremiumYearly: {
			Permissions: map[Permission]bool{
				PermAnalyze: true,
				PermExplain: true,
				PermTTS:     true,
				PermStory:   true,
				PermExport:  true,
				PermVoice:   true,
			},
			DailyLimits: map[FeatureID]int{
				FeatureSentenceAnalysis: Unlimited,
				FeatureGrammarExplain:   Unlimited,
				FeatureTTSGeneration:    200,
				FeatureVoiceChat:        60,
			},
			MonthlyLimits: map[FeatureID]int{
				FeatureStoryGeneration: 100,
				FeatureDeckExport:      Unlimited,
			},
		},
	})
	if err != nil {
		panic(err) // static data, cannot fail
	}
	return p
}
