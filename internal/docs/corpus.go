package docs

// fallbackChunks returns the built-in minimal corpus used when no
// documentation source can be fetched. Enough coverage of the common
// message types to keep retrieval useful offline.
func fallbackChunks() []Chunk {
	entries := []struct {
		typ  string
		text string
	}{
		{UnitHeading, "ATT: attitude. Roll, Pitch, Yaw in degrees; DesRoll, DesPitch, DesYaw are the autopilot targets. time_boot_ms is milliseconds since boot."},
		{UnitParagraph, "GPS: global position fix. Lat and Lng in degrees, Alt in meters above sea level, Spd ground speed in m/s, GCrs ground course in degrees, NSats satellite count, HDop horizontal dilution of precision. Multi-receiver logs index instances as GPS[0], GPS[1]."},
		{UnitParagraph, "BAT: battery status. Volt voltage in volts, VoltR resting voltage estimate, Curr current draw in amps, CurrTot consumed capacity in mAh, Temp battery temperature when a sensor is fitted."},
		{UnitParagraph, "CTUN: control tuning. ThI throttle input, ThO throttle output, Alt achieved altitude, DAlt desired altitude, CRt climb rate in cm/s, DCRt desired climb rate."},
		{UnitParagraph, "MODE: flight mode change. Mode is the new flight mode name, ModeNum its numeric code, Rsn the reason for the change."},
		{UnitParagraph, "VIBE: vibration levels. VibeX, VibeY, VibeZ are standard deviations of accelerometer output in m/s/s; Clip0-Clip2 count accelerometer clipping events. Sustained values above 30 m/s/s indicate a vibration problem."},
		{UnitParagraph, "RCIN: pilot radio input. C1 through C14 are raw RC channel values in PWM microseconds, typically 1000-2000."},
		{UnitParagraph, "RCOU: servo and motor outputs. C1 through C14 are output channel values in PWM microseconds."},
		{UnitParagraph, "BARO: barometer. Alt barometric altitude in meters relative to arming, Press pressure in pascals, Temp barometer temperature in degrees C, CRt climb rate."},
		{UnitParagraph, "IMU: inertial measurement. GyrX, GyrY, GyrZ gyroscope rates in rad/s; AccX, AccY, AccZ accelerometer values in m/s/s."},
		{UnitParagraph, "ERR: error events. Subsys identifies the failing subsystem, ECode the error code. Subsys 6 is a failsafe, ECode 1 means triggered and 0 means resolved."},
		{UnitParagraph, "CURR: legacy battery current message. Volt in volts, Curr in amps, CurrTot total consumed in mAh."},
		{UnitParagraph, "XKF/NKF: EKF estimator status. Innovation and variance fields; VN, VE, VD velocity estimates north, east, down in m/s; PN, PE, PD position estimates in meters."},
	}

	chunks := make([]Chunk, len(entries))
	for i, e := range entries {
		chunks[i] = Chunk{Content: e.text, Type: e.typ}
	}
	return chunks
}
