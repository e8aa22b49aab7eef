package delivery

import (
	"context"
	"hash/fnv"
	"log"

	"track-and-trace/internal/models"
)

// AgentStore defines the registry operations assignment needs.
type AgentStore interface {
	// FindBestAvailable returns the free agent with the fewest deliveries,
	// or models.ErrAgentUnavailable when the registry has none.
	FindBestAvailable(ctx context.Context) (*models.DeliveryAgent, error)
	// MarkAssigned flips availability off and bumps the delivery counter,
	// returning false if the agent was claimed by a concurrent assignment.
	MarkAssigned(ctx context.Context, agentID string) (bool, error)
	// MarkAvailable releases an agent once their delivery reaches a
	// terminal state.
	MarkAvailable(ctx context.Context, agentID string) error
}

// fallbackPool is the fixed set of synthesized couriers used when the
// registry is empty or unreachable. Checkout never blocks on the registry.
var fallbackPool = []models.AgentSnapshot{
	{Name: "Rajesh Kumar", Phone: "+91 98450 12345", Vehicle: "Bike - KA 01 AB 1234", Rating: 4.8},
	{Name: "Amit Sharma", Phone: "+91 98860 23456", Vehicle: "Bike - KA 02 CD 5678", Rating: 4.6},
	{Name: "Priya Singh", Phone: "+91 99000 34567", Vehicle: "Scooter - KA 03 EF 9012", Rating: 4.9},
	{Name: "Suresh Yadav", Phone: "+91 97400 45678", Vehicle: "Bike - KA 04 GH 3456", Rating: 4.5},
	{Name: "Vikram Patel", Phone: "+91 96320 56789", Vehicle: "Van - KA 05 IJ 7890", Rating: 4.7},
}

// maxClaimAttempts bounds the retry loop when concurrent confirmations race
// for the same agent.
const maxClaimAttempts = 3

// AssignmentService picks a delivery agent for a newly confirmed order.
type AssignmentService struct {
	agents AgentStore
}

func NewAssignmentService(agents AgentStore) *AssignmentService {
	return &AssignmentService{agents: agents}
}

// Assign returns an agent snapshot for the order, plus the registry id of
// the claimed agent (empty when synthesized). It first tries to claim a real
// registry agent; any registry error or emptiness degrades to a synthesized
// agent from the fallback pool. It never fails: payment confirmation is the
// higher-priority success path and assignment is best-effort on top of it.
func (s *AssignmentService) Assign(ctx context.Context, orderID string) (models.AgentSnapshot, string) {
	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		agent, err := s.agents.FindBestAvailable(ctx)
		if err != nil {
			if err != models.ErrAgentUnavailable {
				log.Printf("assignment: registry lookup failed for order %s, using fallback: %v", orderID, err)
			}
			break
		}

		claimed, err := s.agents.MarkAssigned(ctx, agent.ID)
		if err != nil {
			log.Printf("assignment: claim failed for agent %s, using fallback: %v", agent.ID, err)
			break
		}
		if claimed {
			return agent.Snapshot(), agent.ID
		}
		// Someone else claimed this agent between the read and the write;
		// re-read the registry and try the next candidate.
	}
	return s.Fallback(orderID), ""
}

// Release frees a previously claimed registry agent. Synthesized agents have
// no registry row, so an empty id is a no-op.
func (s *AssignmentService) Release(ctx context.Context, agentID string) {
	if agentID == "" {
		return
	}
	if err := s.agents.MarkAvailable(ctx, agentID); err != nil {
		log.Printf("assignment: release of agent %s failed: %v", agentID, err)
	}
}

// Fallback returns the synthesized agent for an order. Selection is
// deterministic in the order id so a duplicate timer firing or a re-run of
// the same assignment always names the same courier.
func (s *AssignmentService) Fallback(orderID string) models.AgentSnapshot {
	h := fnv.New32a()
	h.Write([]byte(orderID))
	return fallbackPool[int(h.Sum32())%len(fallbackPool)]
}
