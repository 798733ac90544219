package domain

import (
	"time"

	"github.com/google/uuid"
)

// AppointmentStatus is the lifecycle state of a booked appointment.
type AppointmentStatus string

const (
	AppointmentBooked    AppointmentStatus = "booked"
	AppointmentCancelled AppointmentStatus = "cancelled"
	AppointmentCompleted AppointmentStatus = "completed"
)

// PaymentStatus transitions independently of appointment status: a clinic-pay
// booking stays pending after it is booked, a gateway booking is paid before.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// PaymentMethod selects one of the three payment strategies.
type PaymentMethod string

const (
	MethodClinicPay   PaymentMethod = "clinic_pay"
	MethodWebCheckout PaymentMethod = "web_checkout"
	MethodNativeSheet PaymentMethod = "native_sheet"
)

// Service is a bookable offering. Prices are always re-read at payment and
// booking time; a cached price is never truth.
type Service struct {
	ID            uuid.UUID
	Name          string
	Category      string
	DurationMins  int
	PriceCents    int64
	OnlineAllowed bool
	Active        bool
}

// Therapist provides services.
type Therapist struct {
	ID         uuid.UUID
	Name       string
	Speciality string
	Active     bool
}

// AvailabilitySlot is a fixed time window for a therapist/service pair.
// Invariant: IsBooked is true iff exactly one booked appointment references
// the slot. A slot whose start has passed is never a valid booking target.
type AvailabilitySlot struct {
	ID          uuid.UUID
	TherapistID uuid.UUID
	ServiceID   uuid.UUID
	Date        string // clinic-local, "2006-01-02"
	StartTime   string // clinic-local, "15:04"
	EndTime     string
	IsBooked    bool
}

// Appointment is the projection of a reservation owned by the Authority.
type Appointment struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	ServiceID        uuid.UUID
	TherapistID      uuid.UUID
	SlotID           uuid.UUID
	Status           AppointmentStatus
	PaymentMethod    PaymentMethod
	PaymentStatus    PaymentStatus
	PaymentGateway   string
	GatewayOrderID   string
	GatewayPaymentID string
	AmountPaidCents  int64
	DiscountCents    int64
	CouponCode       string
	Notes            string
	CreatedAt        time.Time
}

// PaymentProof is the verified evidence that a payment path completed. For
// clinic-pay there is nothing to verify and Status stays pending.
type PaymentProof struct {
	Method           PaymentMethod
	Status           PaymentStatus
	Gateway          string
	GatewayOrderID   string
	GatewayPaymentID string
	AmountCents      int64
}

// CartLine holds a client-cached price. The cached price is advisory only;
// the Order Authority recomputes every line at checkout.
type CartLine struct {
	ProductID        uuid.UUID
	Quantity         int
	CachedPriceCents int64
}

// Order is materialized only by the Order Authority.
type Order struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	SubtotalCents int64
	DiscountCents int64
	TaxCents      int64
	ShippingCents int64
	TotalCents    int64
	CouponCode    string
	CreatedAt     time.Time
}
