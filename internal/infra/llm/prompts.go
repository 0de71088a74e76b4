package llm

import (
	"fmt"
	"strings"

	"github.com/jinford/resume-matcher/internal/core/matching"
	"github.com/jinford/resume-matcher/internal/core/profile"
)

const (
	// PromptVersion はプロンプト群のバージョン（失敗ログに記録する）
	PromptVersion = "1.0"

	extractionMaxTokens = 1000
	vacancyMaxTokens    = 1500
	scoringMaxTokens    = 800

	maxListedSkills = 30
)

const profileSystemPrompt = `You are an expert in parsing resumes.
Extract structured data from the resume text.
Return ONLY a valid JSON object, without extra text and without markdown.
If a field is not present in the resume, return null or an empty list.`

const vacancySystemPrompt = `You are an expert HR analyst.
Extract structured requirements from a job vacancy.
Return ONLY a valid JSON object, without extra text and without markdown.`

const scoringSystemPrompt = `You are an expert technical recruiter.
Score a candidate against the job requirements.
Return ONLY a valid JSON object, without extra text and without markdown.`

func buildProfilePrompt(text string) string {
	return fmt.Sprintf(`Extract the following fields from the resume:
{
  "full_name": string or null,
  "email": string or null,
  "phone": string or null,
  "location": string or null,
  "current_position": string or null,
  "years_experience": integer or null,
  "skills": [string],
  "languages": [string],
  "linkedin": string or null,
  "github": string or null,
  "summary": "2-3 sentence profile description" or null
}

Resume text (may be in Russian or English):
%s`, text)
}

func buildVacancyPrompt(text string) string {
	return fmt.Sprintf(`Return this JSON structure:
{
  "job_title": "exact job title from the vacancy",
  "department": "department or team name if mentioned, or null",
  "seniority_level": "junior/middle/senior/lead/principal or null if unclear",
  "must_have_skills": ["required", "skills"],
  "nice_to_have_skills": ["optional", "skills"],
  "min_years_experience": integer or null,
  "responsibilities": ["key", "responsibilities"],
  "location": "location if mentioned or null",
  "remote_ok": true/false based on the vacancy text,
  "summary": "1-2 sentence summary of the role"
}

Rules:
- must_have_skills only includes skills explicitly marked as required
- nice_to_have_skills are skills marked as preferred, bonus or plus
- Be specific with skills (e.g. "Kubernetes", not "containers")

Vacancy text:
%s`, text)
}

func buildScoringPrompt(req matching.VacancyRequirements, candidate matching.CandidateInput, lang string) string {
	var b strings.Builder

	b.WriteString("Job requirements:\n")
	fmt.Fprintf(&b, "- Title: %s\n", orDefault(req.JobTitle, "Unknown"))
	fmt.Fprintf(&b, "- Seniority: %s\n", orDefault(req.Seniority, "Not specified"))
	fmt.Fprintf(&b, "- Must-have skills: %s\n", joinOrDefault(req.MustHaveSkills, "None specified"))
	fmt.Fprintf(&b, "- Nice-to-have skills: %s\n", joinOrDefault(req.NiceToHaveSkills, "None specified"))
	fmt.Fprintf(&b, "- Min experience: %s\n", yearsOrDefault(req.MinYearsExperience, "Not specified"))
	fmt.Fprintf(&b, "- Summary: %s\n\n", orDefault(req.Summary, "Not provided"))

	b.WriteString("Candidate profile:\n")
	fmt.Fprintf(&b, "- Name: %s\n", orDefault(candidate.Name, "Unknown"))
	if p, ok := candidate.Profile.Get(); ok {
		writeProfile(&b, p)
	} else {
		fmt.Fprintf(&b, "- Resume excerpt:\n%s\n", orDefault(candidate.Excerpt, "Not provided"))
	}

	fmt.Fprintf(&b, `
Scoring criteria:
1. Role fit: is the candidate's background relevant to this specific role?
2. Must-have skills: how many required skills does the candidate have?
3. Experience level: does their experience match the required seniority?
4. Nice-to-have: any bonus skills that add value?

Return this exact JSON structure:
{
  "score": integer 0-100 (0 = irrelevant, 100 = perfect match),
  "matching_skills": ["skills the candidate has that match the requirements"],
  "missing_skills": ["required skills the candidate lacks"],
  "strengths": ["2-3 specific strengths for this role"],
  "concerns": ["1-2 potential concerns or gaps"],
  "explanation": "2-3 sentence explanation of the score"
}

Rules:
- Score role fit first, then skills
- Be strict: partial matches score 40-60, good matches 70-85, excellent 85+
- Write strengths, concerns and explanation in %s`, languageName(lang))

	return b.String()
}

func writeProfile(b *strings.Builder, p profile.StructuredProfile) {
	skills := p.Skills
	if len(skills) > maxListedSkills {
		skills = skills[:maxListedSkills]
	}
	fmt.Fprintf(b, "- Current position: %s\n", orDefault(p.Position, "Unknown"))
	fmt.Fprintf(b, "- Years of experience: %s\n", yearsOrDefault(p.YearsExperience, "Unknown"))
	fmt.Fprintf(b, "- Skills: %s\n", joinOrDefault(skills, "Not listed"))
	fmt.Fprintf(b, "- Languages: %s\n", joinOrDefault(p.Languages, "Not listed"))
	fmt.Fprintf(b, "- Location: %s\n", orDefault(p.Location, "Unknown"))
	fmt.Fprintf(b, "- Summary: %s\n", orDefault(p.Summary, "Not provided"))
}

func languageName(lang string) string {
	if lang == matching.LangRussian {
		return "Russian"
	}
	return "English"
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func joinOrDefault(items []string, def string) string {
	if len(items) == 0 {
		return def
	}
	return strings.Join(items, ", ")
}

func yearsOrDefault(years *int, def string) string {
	if years == nil {
		return def
	}
	return fmt.Sprintf("%d years", *years)
}
