package notify

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

const header = "[SUBMIT]"

// Item is one project line in a reminder.
type Item struct {
	Name          string
	PenaltyAmount int
}

// Yen formats an amount with thousands separators.
func Yen(amount int) string {
	return "¥" + humanize.Comma(int64(amount))
}

// MorningReminder lists projects due today. Empty input yields "".
func MorningReminder(names []string) string {
	if len(names) == 0 {
		return ""
	}
	lines := make([]string, len(names))
	for i, n := range names {
		lines[i] = "- " + n
	}
	return fmt.Sprintf("%s Due today\n\n%s", header, strings.Join(lines, "\n"))
}

// EveningReminder lists unsubmitted projects due at midnight.
func EveningReminder(items []Item) string {
	if len(items) == 0 {
		return ""
	}
	lines := make([]string, len(items))
	for i, it := range items {
		lines[i] = fmt.Sprintf("- %s (not submitted: %s)", it.Name, Yen(it.PenaltyAmount))
	}
	return fmt.Sprintf("%s Due at midnight today\n\n%s", header, strings.Join(lines, "\n"))
}

// UrgentReminder summarizes penalties incurred by the latest judgment.
func UrgentReminder(items []Item) string {
	if len(items) == 0 {
		return ""
	}
	total := 0
	lines := make([]string, len(items))
	for i, it := range items {
		total += it.PenaltyAmount
		lines[i] = fmt.Sprintf("- %s: %s", it.Name, Yen(it.PenaltyAmount))
	}
	return fmt.Sprintf("%s Penalty incurred for missed submissions\n\n%s\n\nTotal: %s", header, strings.Join(lines, "\n"), Yen(total))
}

func SubmissionConfirmation(projectName string, sequenceNum int) string {
	return fmt.Sprintf("%s Submission received\n\n%s #%03d", header, projectName, sequenceNum)
}

func JudgmentSuccess(projectName string) string {
	return fmt.Sprintf("%s Judgment complete\n\n%s: submitted", header, projectName)
}

func JudgmentFailed(projectName string, penaltyAmount int) string {
	return fmt.Sprintf("%s Judgment complete\n\n%s: not submitted\nPenalty: %s", header, projectName, Yen(penaltyAmount))
}

// Partner messages.

// SupporterMissed tells a supporter that the person they back missed a period.
func SupporterMissed(ownerName, projectName string, penaltyAmount int) string {
	return fmt.Sprintf("%s %s missed a deadline\n\n%s: not submitted\nPenalty: %s\n\nSend a cheer to help them get back on track.", header, ownerName, projectName, Yen(penaltyAmount))
}

func CheerReceived(supporterName, message string) string {
	return fmt.Sprintf("%s Cheer from %s\n\n%s", header, supporterName, message)
}

func SupporterJoined(supporterName string) string {
	return fmt.Sprintf("%s %s is now supporting you", header, supporterName)
}

// Chat replies.

func LinkAccountRequired() string {
	return header + " This LINE account is not linked to a user yet. Link it from your account settings, then send your submission again."
}

func NoActiveProject() string {
	return header + " You have no active project to submit to."
}

func AskProjectName(names []string) string {
	lines := make([]string, len(names))
	for i, n := range names {
		lines[i] = "- " + n
	}
	return fmt.Sprintf("%s Which project is this for? Include its name in the message.\n\n%s", header, strings.Join(lines, "\n"))
}

func PledgeRequired() string {
	return header + " Complete the pledge before submitting."
}

func DuplicateSubmission(projectName string, sequenceNum int) string {
	return fmt.Sprintf("%s Already received\n\n%s #%03d", header, projectName, sequenceNum)
}
