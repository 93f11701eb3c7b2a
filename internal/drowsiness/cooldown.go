package drowsiness

// Gate decides whether a drowsy frame may raise an alert.
// An alert is authorized when drowsy and either no alert was ever raised
// or more than cooldownMs has passed since the last one. The returned
// timestamp is the updated last-alert time.
func Gate(drowsy bool, lastAlertMs *int64, nowMs, cooldownMs int64) (bool, *int64) {
	if !drowsy {
		return false, lastAlertMs
	}
	if lastAlertMs != nil && nowMs-*lastAlertMs <= cooldownMs {
		return false, lastAlertMs
	}

	now := nowMs
	return true, &now
}
