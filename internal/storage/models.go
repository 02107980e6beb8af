package storage

import "time"

// Transfer kinds
const (
	KindTip          = "tip"
	KindQuestReward  = "quest-reward"
	KindPeerTransfer = "peer-transfer"
)

// Transfer statuses
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
)

// User is a telegram identity seen by the bot
type User struct {
	ID            int64
	TelegramID    string
	Username      string
	FirstName     string
	LastName      string
	WalletAddress string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DisplayName returns @username when known, otherwise the first name
func (u *User) DisplayName() string {
	if u.Username != "" {
		return "@" + u.Username
	}
	if u.FirstName != "" {
		return u.FirstName
	}
	return u.TelegramID
}

// Group is a telegram chat the bot tracks
type Group struct {
	ID             int64
	TelegramChatID string
	Title          string
	Type           string
	CreatedAt      time.Time
}

// WeeklyEntry is one row of a group's weekly aggregate
type WeeklyEntry struct {
	ID        int64
	UserID    int64
	GroupID   int64
	WeekStart string
	Total     int
	Rank      int
	UpdatedAt time.Time
}

// LeaderboardRow is a weekly entry joined with its user
type LeaderboardRow struct {
	Rank       int
	Total      int
	UserID     int64
	TelegramID string
	Username   string
	FirstName  string
	UpdatedAt  time.Time
}

// DisplayName mirrors User.DisplayName for leaderboard rows
func (r *LeaderboardRow) DisplayName() string {
	u := User{TelegramID: r.TelegramID, Username: r.Username, FirstName: r.FirstName}
	return u.DisplayName()
}

// ChatStats summarises all recorded activity of a group
type ChatStats struct {
	TotalUsers    int
	TotalMessages int
	ActiveDays    int
	AvgPerUser    float64
}

// QuestState is the daily quest row of an identity
type QuestState struct {
	Identity    string
	Date        string
	QuestType   string
	Completed   bool
	CompletedAt *time.Time
}

// ChestState is the daily chest row of an identity
type ChestState struct {
	Identity  string
	Date      string
	Eligible  bool
	Opened    bool
	Reward    int
	OpenedAt  *time.Time
	Claiming  bool
	TxHash    string
	ClaimedAt *time.Time
}

// Claimed reports whether a claim reference has been recorded
func (c *ChestState) Claimed() bool {
	return c.TxHash != ""
}

// QuestHistoryEntry is one day of quest history
type QuestHistoryEntry struct {
	Date      string
	Completed bool
	Eligible  bool
	Opened    bool
	Reward    int
	TxHash    string
}

// QuestStats aggregates an identity's quest history
type QuestStats struct {
	TotalQuests     int
	CompletedQuests int
	TotalEarned     int
	TotalClaimed    int
}

// TransferRecord tracks one on-chain movement of funds
type TransferRecord struct {
	ID           int64
	Ref          string
	Kind         string
	Status       string
	FromUserID   *int64
	ToUserID     *int64
	FromAddress  string
	ToAddress    string
	Amount       string
	Token        string
	TokenAddress string
	TxHash       string
	GasUsed      uint64
	Error        string
	Message      string
	Subject      string
	GroupID      *int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
