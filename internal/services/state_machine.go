package services

import (
	"sort"

	"github.com/taketaketaketake/bol-sub000/internal/domain"
)

// OrderTransition describes one edge of the order status graph.
type OrderTransition struct {
	From           domain.OrderStatus
	To             domain.OrderStatus
	Trigger        string
	RequiresWeight bool
	Notify         []domain.NotificationChannel
}

// orderTransitions is the complete edge set, keyed by source status for O(1)
// validation. Any transition not listed is invalid.
var orderTransitions = map[domain.OrderStatus][]OrderTransition{
	domain.OrderStatusDraft: {
		{From: domain.OrderStatusDraft, To: domain.OrderStatusScheduled, Trigger: "payment_confirmed", Notify: []domain.NotificationChannel{domain.ChannelEmail, domain.ChannelSMS}},
	},
	domain.OrderStatusScheduled: {
		{From: domain.OrderStatusScheduled, To: domain.OrderStatusEnRoutePickup, Trigger: "driver_dispatched", Notify: []domain.NotificationChannel{domain.ChannelSMS}},
		{From: domain.OrderStatusScheduled, To: domain.OrderStatusCanceledByCustomer, Trigger: "customer_cancellation"},
		{From: domain.OrderStatusScheduled, To: domain.OrderStatusNoShow, Trigger: "pickup_missed"},
	},
	domain.OrderStatusEnRoutePickup: {
		{From: domain.OrderStatusEnRoutePickup, To: domain.OrderStatusPickedUp, Trigger: "items_collected", RequiresWeight: true},
	},
	domain.OrderStatusPickedUp: {
		{From: domain.OrderStatusPickedUp, To: domain.OrderStatusProcessing, Trigger: "arrived_at_facility"},
	},
	domain.OrderStatusProcessing: {
		{From: domain.OrderStatusProcessing, To: domain.OrderStatusReadyForDelivery, Trigger: "cleaning_completed"},
		{From: domain.OrderStatusProcessing, To: domain.OrderStatusIssueFlagged, Trigger: "damage_reported"},
	},
	domain.OrderStatusReadyForDelivery: {
		{From: domain.OrderStatusReadyForDelivery, To: domain.OrderStatusEnRouteDelivery, Trigger: "out_for_delivery", Notify: []domain.NotificationChannel{domain.ChannelSMS}},
	},
	domain.OrderStatusEnRouteDelivery: {
		{From: domain.OrderStatusEnRouteDelivery, To: domain.OrderStatusDelivered, Trigger: "items_delivered", Notify: []domain.NotificationChannel{domain.ChannelEmail}},
	},
	domain.OrderStatusDelivered: {
		{From: domain.OrderStatusDelivered, To: domain.OrderStatusCompleted, Trigger: "payment_finalized"},
	},
}

// CanTransition reports whether an edge from one status to another exists.
func CanTransition(from, to domain.OrderStatus) bool {
	_, ok := TransitionFor(from, to)
	return ok
}

// TransitionFor returns the edge between two statuses when one exists.
func TransitionFor(from, to domain.OrderStatus) (OrderTransition, bool) {
	for _, edge := range orderTransitions[from] {
		if edge.To == to {
			return edge, true
		}
	}
	return OrderTransition{}, false
}

// ValidTransitions lists the edges leaving a status, sorted by target for
// stable error messages. Terminal and unknown statuses return nil.
func ValidTransitions(from domain.OrderStatus) []OrderTransition {
	edges := orderTransitions[from]
	if len(edges) == 0 {
		return nil
	}
	out := make([]OrderTransition, len(edges))
	copy(out, edges)
	sort.Slice(out, func(i, j int) bool { return out[i].To < out[j].To })
	return out
}

// ValidNextStatuses lists the statuses reachable from a status, sorted.
func ValidNextStatuses(from domain.OrderStatus) []domain.OrderStatus {
	edges := ValidTransitions(from)
	if len(edges) == 0 {
		return nil
	}
	out := make([]domain.OrderStatus, 0, len(edges))
	for _, edge := range edges {
		out = append(out, edge.To)
	}
	return out
}

// KnownOrderStatus reports whether the value is one of the lifecycle statuses.
func KnownOrderStatus(s domain.OrderStatus) bool {
	switch s {
	case domain.OrderStatusDraft, domain.OrderStatusScheduled, domain.OrderStatusEnRoutePickup,
		domain.OrderStatusPickedUp, domain.OrderStatusProcessing, domain.OrderStatusReadyForDelivery,
		domain.OrderStatusEnRouteDelivery, domain.OrderStatusDelivered, domain.OrderStatusCompleted,
		domain.OrderStatusCanceledByCustomer, domain.OrderStatusCanceledByOps,
		domain.OrderStatusNoShow, domain.OrderStatusIssueFlagged:
		return true
	}
	return false
}
