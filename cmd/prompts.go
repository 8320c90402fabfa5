package cmd

import (
	"fmt"
	"strconv"

	"github.com/encodeous/dvr/state"
	"github.com/manifoldco/promptui"
)

func promptDefaultStr(label string, def string, validateFunc promptui.ValidateFunc) (string, error) {
	prompt := promptui.Prompt{
		Label:     label,
		Default:   def,
		AllowEdit: true,
		Validate:  validateFunc,
	}
	return prompt.Run()
}

func promptYN(prefix string, def bool) bool {
	choose := promptui.Select{
		Label:     prefix,
		Items:     []string{"Yes", "No"},
		Size:      2,
		CursorPos: 0,
	}
	if !def {
		choose.CursorPos = 1
	}
	run, _, err := choose.Run()
	if err != nil {
		return false
	}
	return run == 0
}

// promptNode asks for the address and port of a new node
func promptNode() (state.Address, uint16, error) {
	a, err := promptDefaultStr("address", "A.1", state.AddressValidator)
	if err != nil {
		return state.NoAddress, 0, err
	}
	addr, err := state.ParseAddress(a)
	if err != nil {
		return state.NoAddress, 0, err
	}
	p, err := promptDefaultStr("[UDP] port", fmt.Sprint(state.DefaultPort), state.PortValidator)
	if err != nil {
		return state.NoAddress, 0, err
	}
	port, err := strconv.ParseUint(p, 10, 16)
	if err != nil {
		return state.NoAddress, 0, err
	}
	return addr, uint16(port), nil
}
