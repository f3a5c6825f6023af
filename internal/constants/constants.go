package constants

const USER_AGENT = "lazyimage/1.0 (+https://github.com/Amund211/lazyimage)"
