package scenario

import (
	"github.com/user/gatts-table/gatts"
	"github.com/user/gatts-table/wire/gatt"
)

type tableID int

const (
	tableDevInfo tableID = iota
	tableData
	tableControl
)

type attributeRef struct {
	table tableID
	index int
}

// attributes names the table entries a scenario can address.
var attributes = map[string]attributeRef{
	"devinfo.manufacturer": {tableDevInfo, gatts.IdxCharValManufacturer},
	"devinfo.model":        {tableDevInfo, gatts.IdxCharValModel},
	"devinfo.hardware":     {tableDevInfo, gatts.IdxCharValHardwareRev},
	"devinfo.firmware":     {tableDevInfo, gatts.IdxCharValFirmwareRev},
	"devinfo.software":     {tableDevInfo, gatts.IdxCharValSoftwareRev},

	"data.tx":             {tableData, gatts.IdxCharValA},
	"data.tx.cccd":        {tableData, gatts.IdxCharCfgA},
	"data.tx.description": {tableData, gatts.IdxCharUserValA},
	"data.rx":             {tableData, gatts.IdxCharValB},
	"data.rx.cccd":        {tableData, gatts.IdxCharCfgB},
	"data.flow":           {tableData, gatts.IdxCharValC},
	"data.flow.cccd":      {tableData, gatts.IdxCharCfgC},

	"control.a":      {tableControl, gatts.IdxCtrlCharValA},
	"control.b":      {tableControl, gatts.IdxCtrlCharValB},
	"control.c":      {tableControl, gatts.IdxCtrlCharValC},
	"control.d":      {tableControl, gatts.IdxCtrlCharValD},
	"control.e":      {tableControl, gatts.IdxCtrlCharValE},
	"control.f":      {tableControl, gatts.IdxCtrlCharValF},
	"control.f.cccd": {tableControl, gatts.IdxCtrlCharCfgF},
}

// resolve returns the handle the server assigned to name.
func resolve(session *gatts.Session, name string) (uint16, bool) {
	ref, ok := attributes[name]
	if !ok {
		return 0, false
	}
	var table *gatt.HandleTable
	switch ref.table {
	case tableDevInfo:
		table = session.DevInfoHandles()
	case tableData:
		table = session.DataHandles()
	default:
		table = session.ControlHandles()
	}
	if !table.Populated() {
		return 0, false
	}
	return table.Handle(ref.index), true
}
