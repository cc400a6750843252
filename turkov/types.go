package turkov

// tokenEnvelope is the response shape shared by /user/signin and /user/token.
// On failure the server returns {message} instead of tokens.
type tokenEnvelope struct {
	AccessToken           string `json:"accessToken"`
	AccessTokenExpiresAt  int64  `json:"accessTokenExpiresAt"`
	RefreshToken          string `json:"refreshToken"`
	RefreshTokenExpiresAt int64  `json:"refreshTokenExpiresAt"`
	Message               string `json:"message"`
}

// userResponse is the /user payload: account profile plus the device list.
type userResponse struct {
	Devices     []deviceEntry `json:"devices"`
	PushTokens  []string      `json:"pushTokens"`
	UserEmail   string        `json:"userEmail"`
	FirstName   string        `json:"firstName"`
	LastName    string        `json:"lastName"`
	FathersName string        `json:"fathersName"`
}

// deviceEntry is one device record inside the /user payload. Metadata fields
// are pointers so an absent key can be told apart from an empty value; absent
// fields never overwrite what a previous sync stored.
type deviceEntry struct {
	ID              string  `json:"_id"`
	SerialNumber    *string `json:"serialNumber"`
	PIN             *string `json:"pin"`
	DeviceType      *string `json:"deviceType"`
	DeviceName      *string `json:"deviceName"`
	FirmwareVersion *string `json:"firmVer"`
	Image           *string `json:"image"`
}

// commandResponse is returned by the cloud value setter.
type commandResponse struct {
	Message string `json:"message"`
}
