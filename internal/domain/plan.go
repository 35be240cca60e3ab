package domain

import (
	"time"
)

// PlanTask is one scheduled practice task in the final plan.
type PlanTask struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	Done          bool   `json:"done"`
	XP            int    `json:"xp"`
	ScheduledTime string `json:"scheduled_time"`
	TimeOfDay     string `json:"time_of_day"`
	Type          string `json:"type"`
	Location      string `json:"location"`
}

// PlanDayTask is a task reference inside a plan day.
type PlanDayTask struct {
	TaskNumber  int    `json:"task_number"`
	Description string `json:"description"`
	Done        bool   `json:"done"`
}

// PlanDay groups the tasks of one calendar day.
type PlanDay struct {
	Day       int           `json:"day"`
	Date      string        `json:"date"`
	Title     string        `json:"title"`
	Tasks     []PlanDayTask `json:"tasks"`
	Completed bool          `json:"completed"`
}

// UserProfile is derived from the diagnostic summary.
type UserProfile struct {
	SocialCircle      string `json:"social_circle"`
	TodayGoal         string `json:"today_goal"`
	Comfort           string `json:"comfort"`
	DailyInteractions string `json:"daily_interactions"`
}

// PlanDocument is the persisted multi-day plan assembled from every phase
// record at the end of the program.
type PlanDocument struct {
	ID          string       `json:"course_id"`
	UserID      string       `json:"user_id"`
	SessionID   string       `json:"session_id"`
	GoalName    string       `json:"goal_name"`
	Streak      int          `json:"streak"`
	XP          int          `json:"xp"`
	Days        []PlanDay    `json:"days"`
	Tasks       []PlanTask   `json:"tasks"`
	Profile     UserProfile  `json:"user_profile"`
	SessionData PhaseRecords `json:"session_data"`
	GeneratedAt time.Time    `json:"generated_at"`
}
