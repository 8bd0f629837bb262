package clients

import (
	"fmt"

	"github.com/nvthai0611/doan-build-sub011/internal/domain"
	ws "github.com/nvthai0611/doan-build-sub011/internal/transport/websocket"
)

// PaymentNotifier bridges the reconciliation engine to the websocket
// hub. Payment topics are keyed by order code and torn down after their
// single terminal message; staff topics stay open.
type PaymentNotifier struct {
	hub *ws.Hub
}

func NewPaymentNotifier(hub *ws.Hub) *PaymentNotifier {
	return &PaymentNotifier{hub: hub}
}

// OrderTopic is the hub topic a payer subscribes to while waiting for
// the transfer outcome.
func OrderTopic(orderCode int64) string {
	return fmt.Sprintf("order#%d", orderCode)
}

// StaffTopic carries report notifications for one staff member.
func StaffTopic(userID int64) string {
	return fmt.Sprintf("staff#%d", userID)
}

// NotifyPaymentOutcome delivers the single terminal outcome and closes
// the topic. Called once per intent, driven by the committed transition.
func (n *PaymentNotifier) NotifyPaymentOutcome(orderCode int64, outcome domain.Outcome) {
	if n.hub == nil {
		return
	}
	n.hub.BroadcastAndClose(OrderTopic(orderCode), &ws.Message{
		Type: string(outcome.Type),
		Data: outcome.Payload,
	})
}

func (n *PaymentNotifier) NotifyReportReady(userID int64, reportID, url, fileName string) {
	if n.hub == nil {
		return
	}
	n.hub.Broadcast(StaffTopic(userID), &ws.Message{
		Type: "report_ready",
		Data: map[string]interface{}{
			"id":       reportID,
			"url":      url,
			"filename": fileName,
		},
	})
}

func (n *PaymentNotifier) NotifyReportFailed(userID int64, reportID, message string) {
	if n.hub == nil {
		return
	}
	n.hub.Broadcast(StaffTopic(userID), &ws.Message{
		Type: "report_failed",
		Data: map[string]interface{}{
			"id":      reportID,
			"message": message,
		},
	})
}
