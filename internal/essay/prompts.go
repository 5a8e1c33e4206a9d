package essay

import (
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/essaygen/internal/store"
)

const (
	userSoftKey        = "user_soft_context"
	scholarshipSoftKey = "scholarship_soft_context"
)

func distillationPrompt(user, scholarship store.Record) string {
	var b strings.Builder
	b.WriteString("You are a Data Distiller.\n")
	fmt.Fprintf(&b, "User Data: %s\n", user)
	fmt.Fprintf(&b, "Scholarship Data: %s\n", scholarship)
	b.WriteString("TASK: Extract soft skills, mission, values, and goals. Exclude hard numbers, dates, amounts and other numeric data.\n")
	fmt.Fprintf(&b, "OUTPUT: RAW JSON with exactly two string keys, %q and %q. No markdown, no commentary.\n", userSoftKey, scholarshipSoftKey)
	return b.String()
}

func compositionPrompt(ctx DistilledContext, instruction string, minWords, maxWords int) string {
	var b strings.Builder
	b.WriteString("You are a persuasive academic writer.\n")
	b.WriteString("CONTEXT:\n")
	fmt.Fprintf(&b, "1. User: %s\n", ctx.UserSoft)
	fmt.Fprintf(&b, "2. Scholarship: %s\n", ctx.ScholarshipSoft)
	fmt.Fprintf(&b, "USER REQUEST: \"%s\"\n", instruction)
	fmt.Fprintf(&b, "TASK: Write a %d-%d word persuasive scholarship essay strictly following the USER REQUEST.\n", minWords, maxWords)
	b.WriteString("OUTPUT: Only the essay text, with no title, preamble or notes.\n")
	return b.String()
}
