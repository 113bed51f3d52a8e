package service

// InputRole is what a relay controller input is wired to.
type InputRole string

const (
	RoleUnknown     InputRole = ""
	RoleExitButton  InputRole = "exitButton"
	RoleDoorContact InputRole = "doorContact"
	RoleReserve     InputRole = "reserveInput"
)

// InputMap resolves controller input ids to roles.
type InputMap struct {
	ExitButton  int
	DoorContact int
	Reserve     int
}

func DefaultInputMap() InputMap {
	return InputMap{ExitButton: 0, DoorContact: 1, Reserve: 2}
}

func (m InputMap) Role(inputID int) InputRole {
	switch inputID {
	case m.ExitButton:
		return RoleExitButton
	case m.DoorContact:
		return RoleDoorContact
	case m.Reserve:
		return RoleReserve
	}
	return RoleUnknown
}
