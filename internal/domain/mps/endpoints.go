package mps

// Upstream MPS Monitor API paths used by the dashboard widgets.
const (
	PathCustomers      = "Customer/GetCustomers"
	PathDevices        = "Device/GetDevices"
	PathDeviceCounters = "Device/GetDeviceCounters"
	PathDeviceDetail   = "Device/GetDeviceDetails"
	PathAlerts         = "Alert/GetAlerts"
)
