package dto

import (
	"encoding/json"
	"time"

	"stockroom/internal/entity"
	"stockroom/internal/repository"
)

type SuspendUserRequest struct {
	UserID        string `json:"userId" validate:"required,uuid"`
	Reason        string `json:"reason" validate:"required,max=500"`
	DurationHours *int   `json:"durationHours" validate:"omitempty,min=1,max=87600"`
}

type BanUserRequest struct {
	UserID string `json:"userId" validate:"required,uuid"`
	Reason string `json:"reason" validate:"required,max=500"`
}

type UserTargetRequest struct {
	UserID string `json:"userId" validate:"required,uuid"`
}

type ChangeRoleRequest struct {
	UserID string `json:"userId" validate:"required,uuid"`
	Role   string `json:"role" validate:"required,oneof=user admin"`
}

type BlockIPRequest struct {
	IPAddress     string `json:"ip" validate:"required,ip"`
	Reason        string `json:"reason" validate:"required,max=500"`
	DurationHours *int   `json:"durationHours" validate:"omitempty,min=1,max=87600"`
}

type UnblockIPRequest struct {
	IPAddress string `json:"ip" validate:"required,ip"`
}

type TwoFactorCodeRequest struct {
	Code string `json:"code" validate:"required,max=16"`
}

type TwoFactorSetupResponse struct {
	Secret      string   `json:"secret"`
	OTPAuthURL  string   `json:"otpauthUrl"`
	QRCode      string   `json:"qrCode"`
	BackupCodes []string `json:"backupCodes"`
}

type TwoFactorStatusResponse struct {
	Enabled              bool       `json:"enabled"`
	Pending              bool       `json:"pending"`
	EnabledAt            *time.Time `json:"enabledAt,omitempty"`
	BackupCodesRemaining int64      `json:"backupCodesRemaining"`
}

type BackupCodesResponse struct {
	BackupCodes []string `json:"backupCodes"`
}

type BlockedIPResponse struct {
	IPAddress    string     `json:"ip"`
	Reason       string     `json:"reason"`
	BlockedBy    *string    `json:"blockedBy,omitempty"`
	BlockedUntil *time.Time `json:"blockedUntil"`
	CreatedAt    time.Time  `json:"createdAt"`
}

func BlockedIPResponseFromEntity(block *entity.BlockedIP) BlockedIPResponse {
	response := BlockedIPResponse{
		IPAddress:    block.IPAddress,
		Reason:       block.Reason,
		BlockedUntil: block.BlockedUntil,
		CreatedAt:    block.CreatedAt,
	}
	if block.BlockedBy != nil {
		id := block.BlockedBy.String()
		response.BlockedBy = &id
	}
	return response
}

func BlockedIPResponsesFromEntities(blocks []entity.BlockedIP) []BlockedIPResponse {
	responses := make([]BlockedIPResponse, 0, len(blocks))
	for i := range blocks {
		responses = append(responses, BlockedIPResponseFromEntity(&blocks[i]))
	}
	return responses
}

type SecurityEventResponse struct {
	ID        string          `json:"id"`
	UserID    *string         `json:"userId,omitempty"`
	Username  string          `json:"username,omitempty"`
	IPAddress string          `json:"ip"`
	UserAgent string          `json:"userAgent,omitempty"`
	Action    string          `json:"action"`
	Details   json.RawMessage `json:"details,omitempty"`
	RiskScore float64         `json:"riskScore"`
	Location  json.RawMessage `json:"location,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

func SecurityEventResponsesFromEntities(events []entity.SecurityEvent) []SecurityEventResponse {
	responses := make([]SecurityEventResponse, 0, len(events))
	for _, event := range events {
		response := SecurityEventResponse{
			ID:        event.ID.String(),
			Username:  event.Username,
			IPAddress: event.IPAddress,
			UserAgent: event.UserAgent,
			Action:    string(event.Action),
			Details:   json.RawMessage(event.Details),
			RiskScore: event.RiskScore,
			Location:  json.RawMessage(event.Location),
			CreatedAt: event.CreatedAt,
		}
		if event.UserID != nil {
			id := event.UserID.String()
			response.UserID = &id
		}
		responses = append(responses, response)
	}
	return responses
}

type AnalyticsResponse struct {
	Since          time.Time                `json:"since"`
	EventsByAction []repository.ActionCount `json:"eventsByAction"`
	TopIPs         []repository.IPActivity  `json:"topIps"`
	ActiveSessions int64                    `json:"activeSessions"`
	LockedAccounts int64                    `json:"lockedAccounts"`
	BlockedIPs     int                      `json:"blockedIps"`
}

type SuspiciousActivityResponse struct {
	Since          time.Time               `json:"since"`
	SuspiciousIPs  []repository.IPActivity `json:"suspiciousIps"`
	HighRiskEvents []SecurityEventResponse `json:"highRiskEvents"`
}
