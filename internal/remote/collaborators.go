package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/booking"
)

type PatientClient struct {
	c *Client
}

func NewPatientClient(baseURL string, opts Options) *PatientClient {
	return &PatientClient{c: NewClient("patient", baseURL, opts)}
}

func (p *PatientClient) GetPatientByDNI(ctx context.Context, dni string) (*booking.Patient, error) {
	var out booking.Patient
	if err := p.c.do(ctx, "get_patient", http.MethodGet, "/patients/dni/"+url.PathEscape(dni), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type SpecialtyClient struct {
	c *Client
}

func NewSpecialtyClient(baseURL string, opts Options) *SpecialtyClient {
	return &SpecialtyClient{c: NewClient("specialty", baseURL, opts)}
}

func (s *SpecialtyClient) GetSpecialty(ctx context.Context, id uuid.UUID) (*booking.Specialty, error) {
	var out booking.Specialty
	if err := s.c.do(ctx, "get_specialty", http.MethodGet, "/specialties/"+id.String(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type PaymentClient struct {
	c *Client
}

func NewPaymentClient(baseURL string, opts Options) *PaymentClient {
	return &PaymentClient{c: NewClient("payment", baseURL, opts)}
}

func (p *PaymentClient) RegisterCharge(ctx context.Context, charge booking.Charge) error {
	return p.c.do(ctx, "register_charge", http.MethodPost, "/charges", charge, nil)
}

func (p *PaymentClient) CaptureCharge(ctx context.Context, appointmentID uuid.UUID) error {
	return p.c.do(ctx, "capture_charge", http.MethodPost, fmt.Sprintf("/charges/%s/capture", appointmentID), nil, nil)
}

var (
	_ booking.SlotGateway      = (*ScheduleClient)(nil)
	_ booking.PatientDirectory = (*PatientClient)(nil)
	_ booking.SpecialtyCatalog = (*SpecialtyClient)(nil)
	_ booking.PaymentRegistrar = (*PaymentClient)(nil)
)
