package service

import (
	"context"
	"time"

	"reserva/internal/domain"
	"reserva/internal/models"
	"reserva/internal/tenancy"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type GroupMember struct {
	CustomerID   string
	Participants int
	AddOns       []models.AddOn
	Notes        string
}

type GroupRequest struct {
	TenantID              string
	ServiceID             string
	ResourceID            string
	AdditionalResourceIDs []string
	LocationID            string
	Start                 time.Time
	End                   time.Time
	Primary               GroupMember
	Attendees             []GroupMember
	Confirm               bool
	Source                string
	Actor                 string
}

type GroupResult struct {
	GroupID   string                `json:"group_id"`
	Primary   *models.Appointment   `json:"primary"`
	Attendees []*models.Appointment `json:"attendees"`
}

// CreateGroup books a primary appointment plus linked attendees sharing one time and resource set.
// The whole group is refused when the participants exceed the capacity limit or the window is taken.
func (s *AppointmentService) CreateGroup(ctx context.Context, req GroupRequest) (*GroupResult, error) {
	policy, err := s.Policies.Policy(req.TenantID)
	if err != nil {
		return nil, err
	}
	if err := policy.Require(tenancy.CapGroups); err != nil {
		return nil, err
	}
	if req.ResourceID == "" {
		return nil, domain.InvalidFields(map[string]string{"resource_id": "required for group bookings"})
	}

	members := append([]GroupMember{req.Primary}, req.Attendees...)
	total := 0
	for i := range members {
		if members[i].Participants < 0 {
			return nil, domain.InvalidFields(map[string]string{"participants": "must not be negative"})
		}
		if members[i].Participants == 0 {
			members[i].Participants = 1
		}
		total += members[i].Participants
	}

	actor := actorOf(ctx, req.Actor)
	source := req.Source
	if source == "" {
		source = models.SourceGroup
	}
	result := &GroupResult{GroupID: uuid.NewString()}
	var created []*models.Appointment

	err = s.Repo.InTx(ctx, func(tx domain.Store) error {
		limit, err := groupLimit(ctx, tx, req)
		if err != nil {
			return err
		}
		if limit > 0 && total > limit {
			return domain.CapacityExceeded("group of %d participants exceeds capacity %d", total, limit)
		}

		for i, m := range members {
			a, err := s.prepare(ctx, tx, policy, CreateRequest{
				TenantID:              req.TenantID,
				CustomerID:            m.CustomerID,
				ServiceID:             req.ServiceID,
				ResourceID:            req.ResourceID,
				AdditionalResourceIDs: req.AdditionalResourceIDs,
				LocationID:            req.LocationID,
				Start:                 req.Start,
				End:                   req.End,
				CapacityUsed:          m.Participants,
				Confirm:               req.Confirm,
				Source:                source,
				Notes:                 m.Notes,
			}, actor)
			if err != nil {
				return err
			}
			a.Group = &models.GroupInfo{
				GroupID:      result.GroupID,
				IsPrimary:    i == 0,
				Size:         len(members),
				Participants: m.Participants,
				AddOns:       m.AddOns,
			}
			a.TotalAmount = a.TotalAmount.Mul(decimal.NewFromInt(int64(m.Participants)))
			for _, add := range m.AddOns {
				a.TotalAmount = a.TotalAmount.Add(add.Price)
			}

			// Members share the window, so only the primary is checked against other bookings.
			if i == 0 {
				if err := s.ensureFree(ctx, tx, a, "group"); err != nil {
					return err
				}
			}
			if err := s.insert(ctx, tx, a, actor, map[string]any{"group_id": result.GroupID, "primary": i == 0}); err != nil {
				return err
			}
			created = append(created, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Primary = created[0]
	result.Attendees = created[1:]
	s.afterCreate(ctx, policy, actor, created...)
	return result, nil
}

// groupLimit is the smallest non-zero capacity among the resources and the service limit. Zero means unlimited.
func groupLimit(ctx context.Context, st domain.Store, req GroupRequest) (int, error) {
	limit := 0
	tighten := func(n int) {
		if n > 0 && (limit == 0 || n < limit) {
			limit = n
		}
	}
	svc, err := st.GetService(ctx, req.TenantID, req.ServiceID)
	if err != nil {
		return 0, err
	}
	tighten(svc.MaxSimultaneous)
	for _, id := range append([]string{req.ResourceID}, req.AdditionalResourceIDs...) {
		res, err := st.GetResource(ctx, req.TenantID, id)
		if err != nil {
			return 0, err
		}
		tighten(res.Capacity)
	}
	return limit, nil
}
