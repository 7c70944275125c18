package orders

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusConfirmed  Status = "CONFIRMED"
	StatusProcessing Status = "PROCESSING"
	StatusShipping   Status = "SHIPPING"
	StatusDelivered  Status = "DELIVERED"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:    {StatusConfirmed: true, StatusCompleted: true, StatusCancelled: true},
	StatusConfirmed:  {StatusProcessing: true, StatusCancelled: true},
	StatusProcessing: {StatusShipping: true, StatusCancelled: true},
	StatusShipping:   {StatusDelivered: true},
	StatusDelivered:  {StatusCompleted: true},
	StatusCompleted:  {},
	StatusCancelled:  {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleStaff    Role = "STAFF"
	RoleAdmin    Role = "ADMIN"
)

// allowedCancel is the full cancel permission table. Customers may only
// cancel an order that is still waiting for confirmation; staff and admin may
// cancel anything that has not shipped and is not already terminal.
var allowedCancel = map[Role]map[Status]bool{
	RoleCustomer: {
		StatusPending: true,
	},
	RoleStaff: {
		StatusPending:    true,
		StatusConfirmed:  true,
		StatusProcessing: true,
	},
	RoleAdmin: {
		StatusPending:    true,
		StatusConfirmed:  true,
		StatusProcessing: true,
	},
}

func AllowedCancel(role Role, status Status) bool {
	return allowedCancel[role][status]
}
