//go:build windows

package collector

import (
	"fmt"
	"runtime"

	ole "github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"
)

// comInit initializes COM for the calling (locked) thread. The returned
// func must be called on the same thread.
func comInit() (func(), error) {
	if err := ole.CoInitializeEx(0, ole.COINIT_MULTITHREADED); err != nil {
		// S_FALSE (already initialized) is OK
		if oleErr, ok := err.(*ole.OleError); !ok || oleErr.Code() != 0x00000001 {
			return nil, fmt.Errorf("CoInitializeEx: %w", err)
		}
	}
	return ole.CoUninitialize, nil
}

// connectWMI returns an SWbemServices dispatch for namespace
func connectWMI(namespace string) (*ole.IDispatch, error) {
	unknown, err := oleutil.CreateObject("WbemScripting.SWbemLocator")
	if err != nil {
		return nil, fmt.Errorf("create WbemLocator: %w", err)
	}
	defer unknown.Release()

	locator, err := unknown.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		return nil, fmt.Errorf("query IDispatch: %w", err)
	}
	defer locator.Release()

	serviceRaw, err := oleutil.CallMethod(locator, "ConnectServer", nil, namespace)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", namespace, err)
	}
	return serviceRaw.ToIDispatch(), nil
}

// WMIQueryFields executes a WQL query and extracts specific fields from each result.
// Returns results as []map[string]string.
func WMIQueryFields(namespace, query string, fields []string) ([]map[string]string, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	uninit, err := comInit()
	if err != nil {
		return nil, err
	}
	defer uninit()

	service, err := connectWMI(namespace)
	if err != nil {
		return nil, err
	}
	defer service.Release()

	resultRaw, err := oleutil.CallMethod(service, "ExecQuery", query)
	if err != nil {
		return nil, fmt.Errorf("ExecQuery: %w", err)
	}
	result := resultRaw.ToIDispatch()
	defer result.Release()

	countVal, err := oleutil.GetProperty(result, "Count")
	if err != nil {
		return nil, fmt.Errorf("get Count: %w", err)
	}
	count := int(countVal.Val)

	var rows []map[string]string
	for i := 0; i < count; i++ {
		itemRaw, err := oleutil.CallMethod(result, "ItemIndex", i)
		if err != nil {
			continue
		}
		item := itemRaw.ToIDispatch()

		row := make(map[string]string)
		for _, field := range fields {
			val, err := oleutil.GetProperty(item, field)
			if err == nil && val.Value() != nil {
				row[field] = fmt.Sprintf("%v", val.Value())
			}
		}
		item.Release()
		rows = append(rows, row)
	}

	return rows, nil
}
