package urls

// ZenSDK is the vendor documentation of the local HTTP API, including how to
// enable it in the Zendure app.
const ZenSDK = "https://github.com/Zendure/zenSDK"
