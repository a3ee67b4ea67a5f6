package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/taketaketaketake/bol-sub000/internal/domain"
	pfirestore "github.com/taketaketaketake/bol-sub000/internal/platform/firestore"
	"github.com/taketaketaketake/bol-sub000/internal/repositories"
)

const orderCollection = "orders"

// OrderRepository persists orders in Firestore. Status writes run inside
// transactions so concurrent transitions resolve to exactly one winner.
type OrderRepository struct {
	base     *pfirestore.BaseRepository[orderDocument]
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, orderCollection, nil, nil)
	return &OrderRepository{base: base, provider: provider}, nil
}

// Insert creates the order document, failing with a conflict when the id exists.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}

	ref, err := r.base.DocumentRef(ctx, order.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, fromDomainOrder(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update overwrites the stored order document.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}
	if _, err := r.base.Set(ctx, order.ID, fromDomainOrder(order)); err != nil {
		return err
	}
	return nil
}

// FindByID loads a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return toDomainOrder(doc.ID, doc.Data), nil
}

// List returns orders matching the filter, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	query := client.Collection(orderCollection).Query
	if customerID := strings.TrimSpace(filter.CustomerID); customerID != "" {
		query = query.Where("customerId", "==", customerID)
	}
	if laundromatID := strings.TrimSpace(filter.LaundromatID); laundromatID != "" {
		query = query.Where("laundromatId", "==", laundromatID)
	}
	if driverID := strings.TrimSpace(filter.DriverID); driverID != "" {
		query = query.Where("driverId", "==", driverID)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, s := range filter.Status {
			statuses = append(statuses, string(s))
		}
		query = query.Where("status", "in", statuses)
	}
	if filter.DateRange.From != nil {
		query = query.Where("createdAt", ">=", filter.DateRange.From.UTC())
	}
	if filter.DateRange.To != nil {
		query = query.Where("createdAt", "<=", filter.DateRange.To.UTC())
	}

	query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := 0
	if limit > 0 {
		fetchLimit = limit + 1
		query = query.Limit(fetchLimit)
	}
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeTimeToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("orders.list: invalid page token: %w", err)
		}
		query = query.StartAfter(tokenTime, tokenID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("orders.list: decode %s: %w", snap.Ref.ID, err)
		}
		orders = append(orders, toDomainOrder(snap.Ref.ID, doc))
	}

	nextToken := ""
	if limit > 0 && len(orders) == fetchLimit {
		last := orders[len(orders)-1]
		nextToken = encodeTimeToken(last.CreatedAt, last.ID)
		orders = orders[:len(orders)-1]
	}

	return domain.CursorPage[domain.Order]{Items: orders, NextPageToken: nextToken}, nil
}

// UpdateStatusIf writes the status only when the stored status still matches
// expected. A stale expectation aborts the transaction with a conflict.
func (r *OrderRepository) UpdateStatusIf(ctx context.Context, orderID string, expected domain.OrderStatus, update repositories.OrderStatusUpdate) (domain.Order, error) {
	return r.writeStatus(ctx, orderID, &expected, update)
}

// ForceStatus writes the status without checking the stored value.
func (r *OrderRepository) ForceStatus(ctx context.Context, orderID string, update repositories.OrderStatusUpdate) (domain.Order, error) {
	return r.writeStatus(ctx, orderID, nil, update)
}

func (r *OrderRepository) writeStatus(ctx context.Context, orderID string, expected *domain.OrderStatus, update repositories.OrderStatusUpdate) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	if strings.TrimSpace(orderID) == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	var saved orderDocument
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}
		if expected != nil && doc.Status != string(*expected) {
			return status.Errorf(codes.Aborted, "order status is %s, expected %s", doc.Status, *expected)
		}
		applyStatusUpdate(&doc, update)
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		saved = doc
		return nil
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.status", err)
	}
	return toDomainOrder(orderID, saved), nil
}

// ApplyWeightAdjustment records the weighing outcome once; a second attempt conflicts.
func (r *OrderRepository) ApplyWeightAdjustment(ctx context.Context, orderID string, update repositories.WeightAdjustmentUpdate) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	if strings.TrimSpace(orderID) == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	var saved orderDocument
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}
		state := domain.WeightAdjustmentState(doc.Adjustment.State)
		if state == domain.WeightMeasured || state == domain.WeightOverweight {
			return status.Error(codes.FailedPrecondition, "order already weight adjusted")
		}
		doc.Adjustment = fromDomainAdjustment(update.Adjustment)
		doc.Totals = fromDomainTotals(update.Totals)
		doc.Payment = fromDomainPayment(update.Payment)
		doc.UpdatedAt = update.UpdatedAt.UTC()
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		saved = doc
		return nil
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.adjust", err)
	}
	return toDomainOrder(orderID, saved), nil
}

func applyStatusUpdate(doc *orderDocument, update repositories.OrderStatusUpdate) {
	doc.Status = string(update.Status)
	if update.DriverID != nil {
		doc.DriverID = strings.TrimSpace(*update.DriverID)
	}
	if update.MeasuredWeightLb != nil {
		weight := *update.MeasuredWeightLb
		doc.Adjustment.MeasuredLb = &weight
	}
	if update.Payment != nil {
		doc.Payment = fromDomainPayment(*update.Payment)
	}
	if update.Totals != nil {
		doc.Totals = fromDomainTotals(*update.Totals)
	}
	if update.PickupPhotoPath != nil {
		doc.PickupPhotoPath = strings.TrimSpace(*update.PickupPhotoPath)
	}
	if update.DeliveryPhotoPath != nil {
		doc.DeliveryPhotoPath = strings.TrimSpace(*update.DeliveryPhotoPath)
	}
	if update.CanceledAt != nil {
		canceled := update.CanceledAt.UTC()
		doc.CanceledAt = &canceled
	}
	doc.UpdatedAt = update.UpdatedAt.UTC()
}

type orderDocument struct {
	CustomerID        string              `firestore:"customerId"`
	LaundromatID      string              `firestore:"laundromatId"`
	DriverID          string              `firestore:"driverId"`
	PricingModel      string              `firestore:"pricingModel"`
	Status            string              `firestore:"status"`
	Payment           paymentDocument     `firestore:"payment"`
	Totals            totalsDocument      `firestore:"totals"`
	EstimatedWeightLb float64             `firestore:"estimatedWeightLb"`
	Adjustment        adjustmentDocument  `firestore:"weightAdjustment"`
	AddOns            []addOnDocument     `firestore:"addOns"`
	PickupAddress     addressDocument     `firestore:"pickupAddress"`
	DeliveryAddress   addressDocument     `firestore:"deliveryAddress"`
	PickupDate        time.Time           `firestore:"pickupDate"`
	PickupWindow      timeWindowDocument  `firestore:"pickupWindow"`
	DeliveryWindow    timeWindowDocument  `firestore:"deliveryWindow"`
	Notes             string              `firestore:"notes,omitempty"`
	PickupPhotoPath   string              `firestore:"pickupPhotoPath,omitempty"`
	DeliveryPhotoPath string              `firestore:"deliveryPhotoPath,omitempty"`
	CanceledAt        *time.Time          `firestore:"canceledAt,omitempty"`
	CreatedAt         time.Time           `firestore:"createdAt"`
	UpdatedAt         time.Time           `firestore:"updatedAt"`
}

type paymentDocument struct {
	Status          string `firestore:"status"`
	IntentID        string `firestore:"intentId,omitempty"`
	ChargeID        string `firestore:"chargeId,omitempty"`
	OverweightRef   string `firestore:"overweightRef,omitempty"`
	AuthorizedCents int64  `firestore:"authorizedCents"`
	CapturedCents   int64  `firestore:"capturedCents"`
}

type totalsDocument struct {
	Currency           string `firestore:"currency"`
	RatePerPoundCents  int64  `firestore:"ratePerPoundCents"`
	SubtotalCents      int64  `firestore:"subtotalCents"`
	AddOnTotalCents    int64  `firestore:"addOnTotalCents"`
	RushFeeCents       int64  `firestore:"rushFeeCents"`
	OverweightFeeCents int64  `firestore:"overweightFeeCents"`
	DiscountCents      int64  `firestore:"discountCents"`
	TotalCents         int64  `firestore:"totalCents"`
	RefundedCents      int64  `firestore:"refundedCents"`
	MinimumApplied     bool   `firestore:"minimumApplied"`
	MemberPricing      bool   `firestore:"memberPricing"`
}

type adjustmentDocument struct {
	State      string     `firestore:"state"`
	MeasuredLb *float64   `firestore:"measuredLb,omitempty"`
	FeeCents   int64      `firestore:"feeCents"`
	PaymentRef string     `firestore:"paymentRef,omitempty"`
	AdjustedBy string     `firestore:"adjustedBy,omitempty"`
	AdjustedAt *time.Time `firestore:"adjustedAt,omitempty"`
}

type addOnDocument struct {
	Code       string `firestore:"code"`
	Name       string `firestore:"name"`
	PriceCents int64  `firestore:"priceCents"`
	Quantity   int    `firestore:"quantity"`
}

type addressDocument struct {
	Line1        string `firestore:"line1"`
	Line2        string `firestore:"line2,omitempty"`
	City         string `firestore:"city"`
	State        string `firestore:"state"`
	PostalCode   string `firestore:"postalCode"`
	Instructions string `firestore:"instructions,omitempty"`
}

type timeWindowDocument struct {
	ID        string `firestore:"id"`
	Label     string `firestore:"label"`
	StartHour int    `firestore:"startHour"`
	EndHour   int    `firestore:"endHour"`
}

func fromDomainOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		CustomerID:        strings.TrimSpace(order.CustomerID),
		LaundromatID:      strings.TrimSpace(order.LaundromatID),
		DriverID:          strings.TrimSpace(order.DriverID),
		PricingModel:      string(order.PricingModel),
		Status:            string(order.Status),
		Payment:           fromDomainPayment(order.Payment),
		Totals:            fromDomainTotals(order.Totals),
		EstimatedWeightLb: order.EstimatedWeightLb,
		Adjustment:        fromDomainAdjustment(order.WeightAdjustment),
		PickupAddress:     fromDomainAddress(order.PickupAddress),
		DeliveryAddress:   fromDomainAddress(order.DeliveryAddress),
		PickupDate:        order.PickupDate.UTC(),
		PickupWindow:      fromDomainWindow(order.PickupWindow),
		DeliveryWindow:    fromDomainWindow(order.DeliveryWindow),
		Notes:             strings.TrimSpace(order.Notes),
		PickupPhotoPath:   strings.TrimSpace(order.PickupPhotoPath),
		DeliveryPhotoPath: strings.TrimSpace(order.DeliveryPhotoPath),
		CreatedAt:         order.CreatedAt.UTC(),
		UpdatedAt:         order.UpdatedAt.UTC(),
	}
	if order.CanceledAt != nil {
		canceled := order.CanceledAt.UTC()
		doc.CanceledAt = &canceled
	}
	if len(order.AddOns) > 0 {
		doc.AddOns = make([]addOnDocument, 0, len(order.AddOns))
		for _, addOn := range order.AddOns {
			doc.AddOns = append(doc.AddOns, addOnDocument{
				Code:       strings.TrimSpace(addOn.Code),
				Name:       strings.TrimSpace(addOn.Name),
				PriceCents: addOn.PriceCents,
				Quantity:   addOn.Quantity,
			})
		}
	}
	return doc
}

func toDomainOrder(id string, doc orderDocument) domain.Order {
	order := domain.Order{
		ID:                id,
		CustomerID:        doc.CustomerID,
		LaundromatID:      doc.LaundromatID,
		DriverID:          doc.DriverID,
		PricingModel:      domain.PricingModel(doc.PricingModel),
		Status:            domain.OrderStatus(doc.Status),
		Payment:           toDomainPayment(doc.Payment),
		Totals:            toDomainTotals(doc.Totals),
		EstimatedWeightLb: doc.EstimatedWeightLb,
		WeightAdjustment:  toDomainAdjustment(doc.Adjustment),
		PickupAddress:     toDomainAddress(doc.PickupAddress),
		DeliveryAddress:   toDomainAddress(doc.DeliveryAddress),
		PickupDate:        doc.PickupDate,
		PickupWindow:      toDomainWindow(doc.PickupWindow),
		DeliveryWindow:    toDomainWindow(doc.DeliveryWindow),
		Notes:             doc.Notes,
		PickupPhotoPath:   doc.PickupPhotoPath,
		DeliveryPhotoPath: doc.DeliveryPhotoPath,
		CanceledAt:        doc.CanceledAt,
		CreatedAt:         doc.CreatedAt,
		UpdatedAt:         doc.UpdatedAt,
	}
	if len(doc.AddOns) > 0 {
		order.AddOns = make([]domain.OrderAddOn, 0, len(doc.AddOns))
		for _, addOn := range doc.AddOns {
			order.AddOns = append(order.AddOns, domain.OrderAddOn{
				Code:       addOn.Code,
				Name:       addOn.Name,
				PriceCents: addOn.PriceCents,
				Quantity:   addOn.Quantity,
			})
		}
	}
	return order
}

func fromDomainPayment(payment domain.OrderPayment) paymentDocument {
	return paymentDocument{
		Status:          string(payment.Status),
		IntentID:        strings.TrimSpace(payment.IntentID),
		ChargeID:        strings.TrimSpace(payment.ChargeID),
		OverweightRef:   strings.TrimSpace(payment.OverweightRef),
		AuthorizedCents: payment.AuthorizedCents,
		CapturedCents:   payment.CapturedCents,
	}
}

func toDomainPayment(doc paymentDocument) domain.OrderPayment {
	return domain.OrderPayment{
		Status:          domain.PaymentStatus(doc.Status),
		IntentID:        doc.IntentID,
		ChargeID:        doc.ChargeID,
		OverweightRef:   doc.OverweightRef,
		AuthorizedCents: doc.AuthorizedCents,
		CapturedCents:   doc.CapturedCents,
	}
}

func fromDomainTotals(totals domain.OrderTotals) totalsDocument {
	return totalsDocument{
		Currency:           strings.TrimSpace(totals.Currency),
		RatePerPoundCents:  totals.RatePerPoundCents,
		SubtotalCents:      totals.SubtotalCents,
		AddOnTotalCents:    totals.AddOnTotalCents,
		RushFeeCents:       totals.RushFeeCents,
		OverweightFeeCents: totals.OverweightFeeCents,
		DiscountCents:      totals.DiscountCents,
		TotalCents:         totals.TotalCents,
		RefundedCents:      totals.RefundedCents,
		MinimumApplied:     totals.MinimumApplied,
		MemberPricing:      totals.MemberPricing,
	}
}

func toDomainTotals(doc totalsDocument) domain.OrderTotals {
	return domain.OrderTotals{
		Currency:           doc.Currency,
		RatePerPoundCents:  doc.RatePerPoundCents,
		SubtotalCents:      doc.SubtotalCents,
		AddOnTotalCents:    doc.AddOnTotalCents,
		RushFeeCents:       doc.RushFeeCents,
		OverweightFeeCents: doc.OverweightFeeCents,
		DiscountCents:      doc.DiscountCents,
		TotalCents:         doc.TotalCents,
		RefundedCents:      doc.RefundedCents,
		MinimumApplied:     doc.MinimumApplied,
		MemberPricing:      doc.MemberPricing,
	}
}

func fromDomainAdjustment(adjustment domain.WeightAdjustment) adjustmentDocument {
	doc := adjustmentDocument{
		State:      string(adjustment.State),
		MeasuredLb: adjustment.MeasuredLb,
		FeeCents:   adjustment.FeeCents,
		PaymentRef: strings.TrimSpace(adjustment.PaymentRef),
		AdjustedBy: strings.TrimSpace(adjustment.AdjustedBy),
	}
	if doc.State == "" {
		doc.State = string(domain.WeightNotMeasured)
	}
	if adjustment.AdjustedAt != nil {
		adjusted := adjustment.AdjustedAt.UTC()
		doc.AdjustedAt = &adjusted
	}
	return doc
}

func toDomainAdjustment(doc adjustmentDocument) domain.WeightAdjustment {
	state := domain.WeightAdjustmentState(doc.State)
	if state == "" {
		state = domain.WeightNotMeasured
	}
	return domain.WeightAdjustment{
		State:      state,
		MeasuredLb: doc.MeasuredLb,
		FeeCents:   doc.FeeCents,
		PaymentRef: doc.PaymentRef,
		AdjustedBy: doc.AdjustedBy,
		AdjustedAt: doc.AdjustedAt,
	}
}

func fromDomainAddress(address domain.Address) addressDocument {
	return addressDocument{
		Line1:        strings.TrimSpace(address.Line1),
		Line2:        strings.TrimSpace(address.Line2),
		City:         strings.TrimSpace(address.City),
		State:        strings.TrimSpace(address.State),
		PostalCode:   strings.TrimSpace(address.PostalCode),
		Instructions: strings.TrimSpace(address.Instructions),
	}
}

func toDomainAddress(doc addressDocument) domain.Address {
	return domain.Address{
		Line1:        doc.Line1,
		Line2:        doc.Line2,
		City:         doc.City,
		State:        doc.State,
		PostalCode:   doc.PostalCode,
		Instructions: doc.Instructions,
	}
}

func fromDomainWindow(window domain.TimeWindow) timeWindowDocument {
	return timeWindowDocument{
		ID:        strings.TrimSpace(window.ID),
		Label:     strings.TrimSpace(window.Label),
		StartHour: window.StartHour,
		EndHour:   window.EndHour,
	}
}

func toDomainWindow(doc timeWindowDocument) domain.TimeWindow {
	return domain.TimeWindow{
		ID:        doc.ID,
		Label:     doc.Label,
		StartHour: doc.StartHour,
		EndHour:   doc.EndHour,
	}
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
