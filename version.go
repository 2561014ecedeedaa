package identityflow

const VERSION = "v0.3.0"
