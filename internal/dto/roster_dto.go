package dto

import "time"

// ManagerAssignmentRequest links an employee to a manager, provisioning their 1:1 room.
type ManagerAssignmentRequest struct {
	EmployeeID string `json:"employeeId" validate:"required,uuid4"`
	ManagerID  string `json:"managerId" validate:"required,uuid4"`
}

// ChatHistoryQuery filters the REST history endpoint.
type ChatHistoryQuery struct {
	RoomID string     `query:"room_id" validate:"required,uuid4"`
	Before *time.Time `query:"before"`
	Limit  int        `query:"limit" validate:"omitempty,min=1,max=100"`
}
