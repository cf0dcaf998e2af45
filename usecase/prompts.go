package usecase

import (
	"fmt"
	"strings"

	"github.com/mediconnect/server/domain/entities"
	"github.com/mediconnect/server/domain/repositories"
)

// SummaryPrefix separates the triage explanation from the summary meant for the doctor.
const SummaryPrefix = "[SUMMARY]:"

const (
	DefaultLiveModel = "gemini-2.5-flash-native-audio-preview-09-2025"
	DefaultLiveVoice = "Zephyr"
	// AssistantName is used as the doctor name when summarizing a live consultation.
	AssistantName = "MediConnect AI"
)

// Fallback texts returned when the model cannot be reached.
const (
	DoctorFallback  = "Tuvuganye n'ikibazo cya tekiniki. Mwihangane musubiremo nyuma."
	AdviceFallback  = "[ICON:warning] Tuvuganye n'ikibazo cya tekiniki. Mwihangane musubiremo nyuma."
	SummaryFallback = "Ntibishoboye gukora incamake y'ikiganiro. Mwongere mugerageze."
	TriageFallback  = "Habaye ikibazo cya tekiniki. Mwihangane musubiremo."
)

// TriageGreeting opens every triage chat.
const TriageGreeting = "Muraho, ndi umujyanama wa AI ushinzwe kwa kumenya amakuru y'ibanze ku bimenyetso byawe. Mbere y'uko tuvugana na muganga, mbwira muri make ikibazo cyawe nyamukuru."

const liveTriageInstruction = "You are an AI medical triage assistant for a Rwandan health app. Your goal is to gather detailed information about a patient's symptoms. All communication must be in Kinyarwanda. Be empathetic and professional. Ask clarifying questions one at a time. Do not provide a diagnosis."

var triageInstruction = `You are an AI medical triage assistant for a Rwandan health app. Your goal is to gather detailed information about a patient's symptoms before they talk to a doctor.
- All communication must be in Kinyarwanda.
- Be empathetic and professional.
- Ask clarifying questions one at a time.
- Cover aspects like symptom location, duration, severity (on a scale of 1-10), what makes it better or worse, and any associated symptoms.
- Do not provide a diagnosis or medical advice.
- After you have gathered sufficient information (around 4-5 questions), inform the user that you are preparing a summary for the doctor.
- Then, on a new line, output a structured summary in markdown format, starting with the exact prefix "` + SummaryPrefix + `".
- The summary should be concise and well-organized for a doctor to read quickly.`

// LiveTriageConfig returns the voice consultation setup. Empty model or
// voice fall back to the defaults.
func LiveTriageConfig(model, voice string) repositories.LiveConfig {
	if model == "" {
		model = DefaultLiveModel
	}
	if voice == "" {
		voice = DefaultLiveVoice
	}
	return repositories.LiveConfig{
		Model:               model,
		Voice:               voice,
		SystemInstruction:   liveTriageInstruction,
		InputTranscription:  true,
		OutputTranscription: true,
	}
}

func doctorInstruction(doctor entities.Doctor) string {
	return fmt.Sprintf(`You are Dr. %s, a helpful, intelligent, and empathetic %s.
Your user is communicating with you in Kinyarwanda. You MUST respond in Kinyarwanda.
- Your persona should match the doctor's bio: %s.
- The user has already provided their initial symptoms. Your primary goal is to act as a world-class doctor and ask precise, clarifying follow-up questions to better understand their condition.
- Analyze any provided images or videos for visual cues (e.g., redness, swelling, location of injury).
- Ask one or two critical questions at a time. For example: "Ibi bimenyetso byatangiye ryari?" or "Hari ikintu cyihariye gisa n'aho kibitera?".
- Provide brief, general advice if appropriate, but ALWAYS remind the user that this is a preliminary consultation and not a final medical diagnosis. Emphasize that they should see a doctor in person for serious issues.
- Maintain a professional, reassuring, and caring tone. Keep responses concise (2-4 sentences).`,
		doctor.Name, doctor.Specialty, doctor.Bio)
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "Nta zizwi"
	}
	return strings.Join(items, ", ")
}

func advisorInstruction(allergies, chronicConditions []string) string {
	return fmt.Sprintf(`You are a highly intelligent, friendly, and helpful AI health advisor for a user in Rwanda. Your name is MediConnect AI. You MUST respond exclusively in Kinyarwanda.

**Core Directives:**
1.  **Safety First:** You are NOT a doctor. You MUST NOT provide medical diagnoses, prescriptions, or specific treatment plans. Your primary role is to offer general, safe, and evidence-based health, wellness, and nutritional information.
2.  **Doctor Referral:** For any query that hints at a specific medical condition, symptom analysis, or request for diagnosis, your primary response should be to provide general information about the topic and STRONGLY, CLEARLY, and IMMEDIATELY recommend consulting a real human doctor.
3.  **Utilize User Profile for Context:** You have access to the user's health profile. Use this for context to make your advice more relevant, but NEVER mention their personal data directly.
4.  **Structured & Clear Communication:** Use numbered or bulleted lists (using •) for tips or steps. Use markdown bolding (**text**) to emphasize key points.
5.  **Use Icon Tokens:** Embed special tokens to make the chat interactive: [ICON:smile] for friendly encouragement, [ICON:idea] for tips, [ICON:warning] for important safety warnings, [ICON:clipboard] for summaries/lists, [ICON:heart] for wellness topics.
6.  **Image Analysis:** If an image is provided, analyze it at a high level but do not attempt to diagnose anything from it. Refer to a doctor.

**User Profile Context:**
- Allergies: %s
- Chronic Conditions: %s`,
		listOrNone(allergies), listOrNone(chronicConditions))
}

// transcriptText renders patient and doctor lines, dropping system notices.
func transcriptText(messages []repositories.ChatMessage) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case repositories.UserRole:
			lines = append(lines, "Umurwayi: "+m.Content)
		case repositories.ModelRole:
			lines = append(lines, "Muganga: "+m.Content)
		}
	}
	return strings.Join(lines, "\n")
}

func summaryPrompt(doctorName string, messages []repositories.ChatMessage) string {
	return fmt.Sprintf(`You are a medical summarization expert. Based on the following consultation transcript between a patient and Dr. %s, generate a comprehensive yet easy-to-understand summary in Kinyarwanda.

The summary MUST include the following sections, formatted clearly with markdown bold for the titles:

1.  **Ibibazo By'ingenzi Byavuzweho:** The main symptoms or issues the patient described.
2.  **Inama z'Ibanze za Muganga:** The key advice, explanations, or recommendations given by the doctor.
3.  **Ingingo Zikurikira Zasabwe:** Any specific follow-up actions, tests, or lifestyle changes suggested by the doctor.
4.  **Ibibazo By'inyongera Ushobora Kubaza:** Based on the context, generate 2-3 intelligent follow-up questions the patient might want to ask in their next consultation to better understand their health.

**Transcript:**
%s
`, doctorName, transcriptText(messages))
}

// splitSummary separates a triage reply at SummaryPrefix. ok is false when
// the reply does not carry a summary.
func splitSummary(reply string) (explanation, summary string, ok bool) {
	parts := strings.Split(reply, SummaryPrefix)
	if len(parts) < 2 {
		return reply, "", false
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), true
}
