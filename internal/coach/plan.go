package coach

import (
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/coach-labs/internal/domain"
)

// DefaultGoalName is used when the goals record carries no week 1 goal.
const DefaultGoalName = "Social Skills Improvement"

// planDays caps the number of action plan days copied into the final plan.
const planDays = 5

var taskSlots = []struct {
	bucket string
	title  string
	time   string
}{
	{"morning", "Morning", "09:00"},
	{"afternoon", "Afternoon", "14:00"},
	{"evening", "Evening", "19:00"},
}

func slotText(d domain.DayPlan, bucket string) string {
	switch bucket {
	case "morning":
		return d.Morning
	case "afternoon":
		return d.Afternoon
	default:
		return d.Evening
	}
}

// BuildPlan assembles the final plan document from the session's records.
// Missing records yield empty sections. The document id is assigned by the
// PlanStore.
func BuildPlan(sess *domain.Session, now time.Time) *domain.PlanDocument {
	doc := &domain.PlanDocument{
		UserID:      sess.UserID,
		SessionID:   sess.ID,
		GoalName:    DefaultGoalName,
		Streak:      1,
		Days:        []domain.PlanDay{},
		Tasks:       []domain.PlanTask{},
		SessionData: sess.Records.Clone(),
		GeneratedAt: now.UTC(),
	}

	if g := sess.Records.Goals; g != nil && strings.TrimSpace(g.Week1Goal.Description) != "" {
		doc.GoalName = g.Week1Goal.Description
	}

	if d := sess.Records.DiagnosticSummary; d != nil {
		doc.Profile = domain.UserProfile{
			SocialCircle:      socialCircle(d.Context),
			TodayGoal:         todayGoal(d.EmotionalState),
			Comfort:           d.EmotionalState,
			DailyInteractions: d.Context,
		}
	} else {
		doc.Profile = domain.UserProfile{
			SocialCircle: socialCircle(""),
			TodayGoal:    todayGoal(""),
		}
	}

	var daily []domain.DayPlan
	if ap := sess.Records.ActionPlan; ap != nil {
		daily = ap.DailyTasks
	}
	if len(daily) > planDays {
		daily = daily[:planDays]
	}

	for i, dp := range daily {
		dayNum := i + 1
		title := dp.Title
		if title == "" {
			title = fmt.Sprintf("Day %d", dayNum)
		}
		day := domain.PlanDay{
			Day:       dayNum,
			Date:      now.AddDate(0, 0, i).Format(time.DateOnly),
			Title:     title,
			Tasks:     []domain.PlanDayTask{},
			Completed: dayNum == 1,
		}
		for idx, slot := range taskSlots {
			text := slotText(dp, slot.bucket)
			if text == "" {
				continue
			}
			doc.Tasks = append(doc.Tasks, domain.PlanTask{
				ID:            fmt.Sprintf("day%d_task_%d", dayNum, idx),
				Title:         fmt.Sprintf("Day %d - %s Task", dayNum, slot.title),
				Description:   text,
				ScheduledTime: slot.time,
				TimeOfDay:     slot.bucket,
				Type:          "friend",
				Location:      "Not specified",
			})
			day.Tasks = append(day.Tasks, domain.PlanDayTask{
				TaskNumber:  idx + 1,
				Description: text,
			})
		}
		doc.Days = append(doc.Days, day)
	}
	return doc
}

func socialCircle(context string) string {
	c := strings.ToLower(context)
	switch {
	case strings.Contains(c, "work"), strings.Contains(c, "colleague"):
		return "colleagues"
	case strings.Contains(c, "date"), strings.Contains(c, "dating"):
		return "dating"
	case strings.Contains(c, "family"):
		return "family"
	default:
		return "friends"
	}
}

func todayGoal(emotionalState string) string {
	e := strings.ToLower(emotionalState)
	switch {
	case strings.Contains(e, "anxious"), strings.Contains(e, "nervous"):
		return "confidence"
	case strings.Contains(e, "frustrated"):
		return "breakthrough"
	case strings.Contains(e, "lonely"):
		return "connection"
	default:
		return "growth"
	}
}
