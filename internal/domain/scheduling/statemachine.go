package scheduling

var transitions = map[Status]map[Status]bool{
	StatusScheduled: {
		StatusConfirmed: true, StatusConfirmedByPatient: true,
		StatusCancelledByClinic: true, StatusCancelledByPatient: true, StatusNoShow: true,
	},
	StatusConfirmed: {
		StatusConfirmedByPatient: true, StatusCompleted: true,
		StatusCancelledByClinic: true, StatusCancelledByPatient: true, StatusNoShow: true,
	},
	StatusConfirmedByPatient: {
		StatusConfirmed: true, StatusCompleted: true,
		StatusCancelledByClinic: true, StatusCancelledByPatient: true, StatusNoShow: true,
	},
}

// CanTransition reports whether an appointment may move from one status to
// another. Terminal statuses have no outgoing transitions.
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusConfirmedByPatient, StatusCompleted,
		StatusCancelledByClinic, StatusCancelledByPatient, StatusNoShow:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelledByClinic, StatusCancelledByPatient, StatusNoShow:
		return true
	}
	return false
}

// Blocking reports whether an appointment in this status occupies its
// window for conflict detection.
func (s Status) Blocking() bool {
	switch s {
	case StatusCancelledByClinic, StatusCancelledByPatient, StatusNoShow:
		return false
	}
	return true
}

func (s Status) Cancelled() bool {
	return s == StatusCancelledByClinic || s == StatusCancelledByPatient
}

// SyncableStatuses are pushed to the external calendar.
var SyncableStatuses = []Status{StatusScheduled, StatusConfirmed, StatusConfirmedByPatient}

// nonBlockingStatuses is the SQL-side complement of Blocking.
var nonBlockingStatuses = []string{
	string(StatusCancelledByClinic), string(StatusCancelledByPatient), string(StatusNoShow),
}
