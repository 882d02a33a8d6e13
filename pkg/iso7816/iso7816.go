/*
Package iso7816 is the APDU protocol engine of the eID middleware.

It encodes command APDUs (ISO/IEC 7816-3 cases 1 to 4, short and extended
lengths), decodes response APDUs, and drives the transport level procedures
that T=0 readers expose to the application:

  - '61XX': XX more bytes are waiting. The engine issues GET RESPONSE with
    Le = XX and keeps doing so until the card returns a terminal status,
    concatenating every fragment in order.
  - '6CXX': wrong Le. The command is sent again once with Le = XX.

Terminal status words are not handed to callers as raw bytes: Transceive
classifies them through package carderr, so a caller sees
SecurityConditionNotSatisfied or ObjectNotFound instead of 6982 or 6A82.

# Usage

	client := iso7816.NewClient(channel)

	cmd, _ := iso7816.GetChallenge(iso7816.BasicClass, 8)
	resp, err := client.Transceive(ctx, cmd)
	if err != nil {
	    // errors.Is(err, carderr.ErrCardChanged), ...
	}
	fmt.Printf("challenge: %X\n", resp.Data)

Send returns the full Trace instead, i.e. every physical exchange performed
for one logical command, which the *Result types turn into readable reports.
*/
package iso7816
