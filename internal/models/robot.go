package models

// ChatRobot is a named persona that answers questions from its own documents.
type ChatRobot struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// RobotDescription is one persona description. Only the default one is used
// when prompting.
type RobotDescription struct {
	ID          string `json:"id"`
	RobotID     string `json:"robot_id"`
	Description string `json:"description"`
	IsDefault   bool   `json:"is_default"`
}

// User owns conversation turns.
type User struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}
