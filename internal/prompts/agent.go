package prompts

// IterationLimitApology is returned when the loop reaches its
// iteration cap without the model producing a final answer.
const IterationLimitApology = "I apologize, but I needed too many iterations to complete this task."

// ErrorApologyPrefix prefixes the user-facing message when handling a
// message fails outright.
const ErrorApologyPrefix = "Sorry, I encountered an error: "

// EmptyResponseFallback is the user-facing message when the model
// returns no content for its final answer.
const EmptyResponseFallback = "I processed your request but wasn't able to compose a response. Please try again."
